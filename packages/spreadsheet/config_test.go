package spreadsheet

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/text/language"
)

func TestParseConfig(t *testing.T) {
	config, err := ParseConfig([]byte(`
max_iteration: 5
default_rows: 50
locale: de-DE
debug: true
`))
	if err != nil {
		t.Fatal(err)
	}

	want := DefaultConfig()
	want.MaxIteration = 5
	want.DefaultRows = 50
	want.Locale = "de-DE"
	want.Debug = true
	if diff := cmp.Diff(want, config); diff != "" {
		t.Errorf("ParseConfig() mismatch (-want +got):\n%s", diff)
	}
	if config.LocaleTag() != language.MustParse("de-DE") {
		t.Errorf("LocaleTag() = %v", config.LocaleTag())
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := map[string]string{
		"Malformed":        "max_iteration: [",
		"ZeroIteration":    "max_iteration: 0",
		"TooManyRows":      "default_rows: 2000000000",
		"ZeroColumns":      "default_cols: 0",
		"NegativeLogLevel": "log_verbosity: -1",
		"BadLocale":        "locale: not_a_locale!",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(data))
			if !errors.Is(err, NewApplicationError(InvalidArgument, "")) {
				t.Errorf("ParseConfig(%q) error = %v, want InvalidArgument", data, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spreadsheet.yaml")
	if err := os.WriteFile(path, []byte("max_iteration: 12\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	config, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if config.MaxIteration != 12 || config.DefaultCols != 26 {
		t.Errorf("LoadConfig() = %+v", config)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadConfig(missing) error = %v, want os.ErrNotExist", err)
	}
}

func TestLocaleTagFallback(t *testing.T) {
	config := DefaultConfig()
	config.Locale = ""
	if config.LocaleTag() != language.Und {
		t.Errorf("LocaleTag() = %v, want und", config.LocaleTag())
	}
}

func TestConfigureLogging(t *testing.T) {
	config := DefaultConfig()
	config.LogVerbosity = 2
	config.LogFile = filepath.Join(t.TempDir(), "spreadsheet.log")
	config.ConfigureLogging()
	defer DefaultConfig().ConfigureLogging()

	s, err := NewSpreadsheetWithConfig(config)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddWorksheet("Sheet1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("A1", "=1+"); err != nil {
		t.Fatal(err)
	}
	if value, _ := s.Get("A1"); value == nil {
		t.Error("a broken formula should evaluate to its error")
	}
}
