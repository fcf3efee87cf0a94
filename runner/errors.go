package runner

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied means the test driver may not control the UI. It is
	// never retried.
	ErrPermissionDenied = errors.New("Unable to run UI Tests because Xcode Helper does not have permission to use Accessibility. " +
		"To enable UI testing, go to the Security & Privacy pane in System Preferences, select the Privacy tab, " +
		"then select Accessibility, and add Xcode Helper to the list of applications allowed to use Accessibility")

	// ErrDamagedBuild is raised on the primary node when the build products
	// are corrupt. The build folder has been wiped when it is returned.
	ErrDamagedBuild = errors.New("tests failed because of damaged build folder, please try rerunning the build again")

	// ErrArtifactExists is returned when a result bundle would overwrite one
	// already relocated for the same agent.
	ErrArtifactExists = errors.New("result bundle already relocated")
)

// BootstrapError reports a test driver that exited before running any test,
// twice in a row.
type BootstrapError struct {
	Node  string
	Agent string
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("test runner failed to bootstrap on %s, simulator %s", e.Node, e.Agent)
}

// ArtifactCountError reports a search that did not find exactly one artifact.
type ArtifactCountError struct {
	Kind  string
	Path  string
	Found int
}

func (e *ArtifactCountError) Error() string {
	if e.Found == 0 {
		return fmt.Sprintf("no %s found in %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("too many %s found in %s (%d)", e.Kind, e.Path, e.Found)
}
