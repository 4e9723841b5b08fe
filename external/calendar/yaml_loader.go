package calendar

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/foxseedlab/racenotif/internal/calendar"
	"github.com/samber/do/v2"
	yaml "go.yaml.in/yaml/v3"
)

type yamlFile struct {
	Weekends []yamlWeekend `yaml:"weekends"`
}

type yamlWeekend struct {
	Name      string        `yaml:"name"`
	Series    string        `yaml:"series"`
	Icon      string        `yaml:"icon"`
	StartDate time.Time     `yaml:"start_date"`
	Sessions  []yamlSession `yaml:"sessions"`
}

type yamlSession struct {
	Name      string    `yaml:"name"`
	StartTime time.Time `yaml:"start_time"`
	Duration  string    `yaml:"duration"`
	Notify    string    `yaml:"notify"`
}

type YAMLLoader struct{}

func NewYAMLLoader() calendar.Loader {
	return &YAMLLoader{}
}

func (l *YAMLLoader) Load(path string) (*calendar.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML calendar. Unknown keys are rejected.
func Parse(data []byte) (*calendar.File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var raw yamlFile
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}

	f := &calendar.File{Weekends: make([]calendar.Weekend, 0, len(raw.Weekends))}
	for _, w := range raw.Weekends {
		weekend := calendar.Weekend{
			Name:      w.Name,
			Series:    w.Series,
			Icon:      w.Icon,
			StartDate: w.StartDate.UTC(),
			Sessions:  make([]calendar.Session, 0, len(w.Sessions)),
		}
		for _, s := range w.Sessions {
			d, err := time.ParseDuration(s.Duration)
			if err != nil {
				return nil, fmt.Errorf("weekend %q: session %q: invalid duration %q: %w", w.Name, s.Name, s.Duration, err)
			}
			weekend.Sessions = append(weekend.Sessions, calendar.Session{
				Name:      s.Name,
				StartTime: s.StartTime.UTC(),
				Duration:  d,
				Notify:    s.Notify,
			})
		}
		f.Weekends = append(f.Weekends, weekend)
	}
	return f, nil
}

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (calendar.Loader, error) {
		return NewYAMLLoader(), nil
	})
}
