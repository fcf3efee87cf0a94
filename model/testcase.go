package model

import "strings"

// TestCase identifies a single UI test.
//
// Equality is by Name only: two cases with the same name in different suites
// compare equal. Use Identifier when the suite matters.
type TestCase struct {
	Name        string   `yaml:"name" json:"name"`
	Suite       string   `yaml:"suite" json:"suite"`
	Tags        []string `yaml:"tags,omitempty" json:"tags"`
	TestCaseIDs []string `yaml:"test_case_ids,omitempty" json:"testCaseIDs"`
}

// NewTestCase strips a trailing "()" from the name.
func NewTestCase(suite, name string) TestCase {
	return TestCase{Suite: suite, Name: strings.ReplaceAll(name, "()", "")}
}

// Identifier is the Suite/Name form the test driver filters on.
func (t TestCase) Identifier() string {
	return t.Suite + "/" + t.Name
}

// Equal compares by name.
func (t TestCase) Equal(other TestCase) bool {
	return t.Name == other.Name
}

func (t TestCase) String() string {
	return t.Suite + " " + t.Name
}

// ContainsTestCase reports whether list has a case equal to tc.
func ContainsTestCase(list []TestCase, tc TestCase) bool {
	for _, candidate := range list {
		if candidate.Equal(tc) {
			return true
		}
	}
	return false
}

// Identifiers maps test cases to their identifiers.
func Identifiers(tests []TestCase) []string {
	ids := make([]string, len(tests))
	for i, t := range tests {
		ids[i] = t.Identifier()
	}
	return ids
}
