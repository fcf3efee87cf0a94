package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"simfleet/executor"
	"simfleet/logging"
)

const (
	settingsPath   = "~/Library/Preferences/com.apple.iphonesimulator.plist"
	savedStatePath = "~/Library/Saved Application State/com.apple.iphonesimulator.savedState"
)

// Settings is the simulator app preference file. Keys this package does not
// manage are preserved untouched.
type Settings struct {
	values map[string]interface{}
}

// NewSettings wraps decoded preference values.
func NewSettings(values map[string]interface{}) *Settings {
	if values == nil {
		values = make(map[string]interface{})
	}
	return &Settings{values: values}
}

// ScreenIdentifier returns the screen window geometry is stored under.
func (s *Settings) ScreenIdentifier() (string, bool) {
	screens, _ := s.values["ScreenConfigurations"].(map[string]interface{})
	if len(screens) == 0 {
		return "", false
	}
	keys := make([]string, 0, len(screens))
	for k := range screens {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[len(keys)-1], true
}

// PrepareForArrangement disables app features that move or resize windows.
func (s *Settings) PrepareForArrangement() {
	delete(s.values, "CurrentDeviceUDID")
	s.values["AllowFullscreenMode"] = false
	s.values["PasteboardAutomaticSync"] = false
	s.values["ShowChrome"] = false
	s.values["ConnectHardwareKeyboard"] = false
	s.values["OptimizeRenderingForWindowScale"] = false
}

// SetWindowGeometry places the window of simulator udid on screen.
func (s *Settings) SetWindowGeometry(udid, screen string, placement WindowPlacement) {
	prefs := child(s.values, "DevicePreferences")
	device := child(prefs, udid)
	delete(device, "SimulatorExternalDisplay")
	device["SimulatorWindowOrientation"] = "Portrait"
	device["SimulatorWindowRotationAngle"] = 0
	geometry := child(child(device, "SimulatorWindowGeometry"), screen)
	geometry["WindowScale"] = placement.Scale
	geometry["WindowCenter"] = placement.Center()
}

// WindowGeometry returns the stored scale and center for udid on screen.
func (s *Settings) WindowGeometry(udid, screen string) (scale float64, center string, ok bool) {
	prefs, _ := s.values["DevicePreferences"].(map[string]interface{})
	device, _ := prefs[udid].(map[string]interface{})
	windows, _ := device["SimulatorWindowGeometry"].(map[string]interface{})
	geometry, _ := windows[screen].(map[string]interface{})
	if geometry == nil {
		return 0, "", false
	}
	scale, _ = geometry["WindowScale"].(float64)
	center, _ = geometry["WindowCenter"].(string)
	return scale, center, true
}

// MarshalJSON encodes the settings for plutil.
func (s *Settings) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.values)
}

func child(m map[string]interface{}, key string) map[string]interface{} {
	c, ok := m[key].(map[string]interface{})
	if !ok {
		c = make(map[string]interface{})
		m[key] = c
	}
	return c
}

// FetchSettings loads the simulator preferences, regenerating them when they
// lack screen configurations.
func (p *Proxy) FetchSettings(ctx context.Context) (*Settings, error) {
	settings, err := p.loadSettings(ctx)
	if err != nil {
		return nil, err
	}
	if settings != nil {
		if _, ok := settings.ScreenIdentifier(); ok {
			return settings, nil
		}
	}

	if err := p.RewriteSettings(ctx); err != nil {
		return nil, err
	}
	settings, err = p.loadSettings(ctx)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return nil, logging.Errorf(p.e.Log(), "failed loading simulator settings")
	}
	if _, ok := settings.ScreenIdentifier(); !ok {
		return nil, logging.Errorf(p.e.Log(), "failed to reset simulator settings: ScreenConfigurations key missing")
	}
	return settings, nil
}

func (p *Proxy) loadSettings(ctx context.Context) (*Settings, error) {
	exists, err := executor.FileExists(ctx, p.e, settingsPath)
	if err != nil || !exists {
		return nil, err
	}
	result, err := p.e.Capture(ctx, fmt.Sprintf("plutil -convert json -o - %s", executor.Quote(settingsPath)))
	if err != nil {
		return nil, err
	}
	if result.Status != 0 {
		p.logger.Warn("simulator settings could not be converted")
		return nil, nil
	}
	var values map[string]interface{}
	if err := json.Unmarshal([]byte(result.Output), &values); err != nil {
		p.logger.Warn("simulator settings could not be decoded")
		return nil, nil
	}
	return NewSettings(values), nil
}

// StoreSettings writes settings back and forces the simulator app to reload
// them.
func (p *Proxy) StoreSettings(ctx context.Context, settings *Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed encoding simulator settings: %w", err)
	}

	tmp := fmt.Sprintf("/tmp/simfleet-%s.json", uuid.NewString())
	if err := p.e.Upload(ctx, data, tmp); err != nil {
		return err
	}
	for _, cmd := range []string{
		fmt.Sprintf("plutil -convert binary1 -o %s %s", executor.Quote(settingsPath), tmp),
		"rm -f " + tmp,
		"rm -rf " + executor.Quote(savedStatePath),
		"defaults read com.apple.iphonesimulator &>/dev/null || true",
	} {
		if _, err := p.e.Execute(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}
