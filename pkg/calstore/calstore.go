// Package calstore persists probe calibration records in a bbolt database.
//
// Records are stored as a validity marker followed by four little-endian
// float32 values: ref1 mV, ref2 mV, ref1 value, ref2 value.
package calstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/phx/pkg/phx"
	bolt "go.etcd.io/bbolt"
)

// Bucket holds every calibration record.
const Bucket = "calibration"

const (
	recordMarker = 0xA5
	recordSize   = 1 + 4*4

	minVoltageSpan = 1.0    // mV
	maxVoltageSpan = 6144.0 // mV, widest ADS1015 range
)

var (
	ErrNotFound = errors.New("calibration not found")
	ErrInvalid  = errors.New("invalid calibration")
)

// valueSpan is the accepted distance between the two reference values.
var valueSpan = map[phx.Kind][2]float32{
	phx.Acidity:        {0.5, 14},
	phx.RedoxPotential: {10, 1000},
}

// Store is a calibration database.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open calibration store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(Bucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", Bucket, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(probe string, k phx.Kind) []byte {
	return []byte(probe + "/" + k.String())
}

// Save validates and stores a record.
func (s *Store) Save(probe string, k phx.Kind, cal phx.Calibration) error {
	if err := Validate(k, cal); err != nil {
		return err
	}
	data := Encode(cal)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(Bucket)).Put(key(probe, k), data)
	})
}

// Load returns the stored record.
func (s *Store) Load(probe string, k phx.Kind) (phx.Calibration, error) {
	var cal phx.Calibration
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(Bucket)).Get(key(probe, k))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", probe, k, ErrNotFound)
		}
		var err error
		cal, err = Decode(data)
		if err != nil {
			return fmt.Errorf("%s/%s: %w", probe, k, err)
		}
		return nil
	})
	return cal, err
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *Store) Delete(probe string, k phx.Kind) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(Bucket)).Delete(key(probe, k))
	})
}

// Encode serializes cal. Values are narrowed to float32.
func Encode(cal phx.Calibration) []byte {
	buf := make([]byte, recordSize)
	buf[0] = recordMarker
	for i, v := range []float64{cal.Ref1.Millivolts, cal.Ref2.Millivolts, cal.Ref1.Value, cal.Ref2.Value} {
		binary.LittleEndian.PutUint32(buf[1+4*i:], math32.Float32bits(float32(v)))
	}
	return buf
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (phx.Calibration, error) {
	if len(data) != recordSize || data[0] != recordMarker {
		return phx.Calibration{}, ErrInvalid
	}
	var f [4]float64
	for i := range f {
		f[i] = float64(math32.Float32frombits(binary.LittleEndian.Uint32(data[1+4*i:])))
	}
	return phx.Calibration{
		Ref1: phx.Point{Millivolts: f[0], Value: f[2]},
		Ref2: phx.Point{Millivolts: f[1], Value: f[3]},
	}, nil
}

// Validate checks that a record is plausible for k: finite, with reference
// voltages and values far enough apart.
func Validate(k phx.Kind, cal phx.Calibration) error {
	vals := [4]float32{
		float32(cal.Ref1.Millivolts), float32(cal.Ref2.Millivolts),
		float32(cal.Ref1.Value), float32(cal.Ref2.Value),
	}
	for _, v := range vals {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite reference", ErrInvalid)
		}
	}

	dv := math32.Abs(vals[1] - vals[0])
	if dv < minVoltageSpan || dv > maxVoltageSpan {
		return fmt.Errorf("%w: reference voltages %.1f mV apart", ErrInvalid, dv)
	}

	span, ok := valueSpan[k]
	if !ok {
		return fmt.Errorf("%w: unknown kind %s", ErrInvalid, k)
	}
	dx := math32.Abs(vals[3] - vals[2])
	if dx < span[0] || dx > span[1] {
		return fmt.Errorf("%w: reference values %g apart, want %g..%g", ErrInvalid, dx, span[0], span[1])
	}
	return nil
}
