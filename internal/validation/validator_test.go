package validation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inner struct {
	Name string `yaml:"name" validate:"required"`
}

type sample struct {
	Host    string        `yaml:"host" validate:"required"`
	Port    int           `yaml:"port" validate:"min=1,max=65535"`
	Driver  string        `yaml:"driver" validate:"oneof=ssd1306 png none"`
	Delay   time.Duration `yaml:"delay" validate:"min=100ms"`
	Feeds   []string      `yaml:"feeds" validate:"min=1"`
	QoS     uint8         `yaml:"qos" validate:"max=2"`
	Secret  string        `yaml:"secret" validate:"omitempty,min=8"`
	Nested  inner         `yaml:"nested"`
	Entries []inner       `yaml:"entries"`
}

func valid() sample {
	return sample{
		Host:    "localhost",
		Port:    2501,
		Driver:  "png",
		Delay:   time.Second,
		Feeds:   []string{"MESSAGE"},
		Nested:  inner{Name: "a"},
		Entries: []inner{{Name: "b"}},
	}
}

func TestValidate_OK(t *testing.T) {
	s := valid()
	assert.NoError(t, NewValidator().Validate(&s))
	assert.NoError(t, NewValidator().Validate(s))
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*sample)
		field  string
	}{
		{"required", func(s *sample) { s.Host = "" }, "host"},
		{"int min", func(s *sample) { s.Port = 0 }, "port"},
		{"int max", func(s *sample) { s.Port = 70000 }, "port"},
		{"oneof", func(s *sample) { s.Driver = "vga" }, "driver"},
		{"duration min", func(s *sample) { s.Delay = 10 * time.Millisecond }, "delay"},
		{"slice length", func(s *sample) { s.Feeds = nil }, "feeds"},
		{"uint max", func(s *sample) { s.QoS = 3 }, "qos"},
		{"omitempty set but short", func(s *sample) { s.Secret = "short" }, "secret"},
		{"nested struct", func(s *sample) { s.Nested.Name = "" }, "nested.name"},
		{"slice of structs", func(s *sample) { s.Entries = append(s.Entries, inner{}) }, "entries[1].name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			err := NewValidator().Validate(&s)
			require.Error(t, err)

			var fe *FieldError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestValidate_OmitemptySkipsZero(t *testing.T) {
	s := valid()
	s.Secret = ""
	assert.NoError(t, NewValidator().Validate(&s))
}

func TestValidate_RejectsNonStruct(t *testing.T) {
	assert.Error(t, NewValidator().Validate(42))
}

func TestValidate_UnknownRule(t *testing.T) {
	type bad struct {
		X string `validate:"email"`
	}
	assert.Error(t, NewValidator().Validate(bad{X: "a"}))
}

func TestValidate_DashSkipsSubtree(t *testing.T) {
	type outer struct {
		Skipped []inner `validate:"-"`
	}
	assert.NoError(t, NewValidator().Validate(outer{Skipped: []inner{{}}}))
}
