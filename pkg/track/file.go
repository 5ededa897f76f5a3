package track

import (
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mpapenbr/race-progress/pkg/model"
)

type (
	// File is the on-disk representation of a track
	File struct {
		Name      string         `yaml:"name" validate:"required"`
		Waypoints []FileWaypoint `yaml:"waypoints" validate:"required,min=3,dive"`
	}
	FileWaypoint struct {
		X *float64 `yaml:"x" validate:"required"`
		Y *float64 `yaml:"y"`
		Z *float64 `yaml:"z" validate:"required"`
	}
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func Decode(r io.Reader) (*Track, error) {
	var f File
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTrackFile, err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTrackFile, err)
	}
	positions := make([]model.Vector3, len(f.Waypoints))
	for i, wp := range f.Waypoints {
		positions[i] = model.Vec(*wp.X, deref(wp.Y), *wp.Z)
	}
	return New(f.Name, positions)
}

func LoadFile(path string) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Encode writes t in the track file format
func Encode(w io.Writer, t *Track) error {
	f := File{Name: t.Name()}
	for _, wp := range t.waypoints {
		x, y, z := wp.Position.X, wp.Position.Y, wp.Position.Z
		f.Waypoints = append(f.Waypoints, FileWaypoint{X: &x, Y: &y, Z: &z})
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(&f)
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
