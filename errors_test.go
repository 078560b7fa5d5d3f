package edelta

import (
	"errors"
	"strings"
	"testing"
)

func TestDataError_ErrorAndUnwrap(t *testing.T) {
	t.Run("small data", func(t *testing.T) {
		inner := errors.New("inner")
		err := dataErrf([]byte{0xAA, 0xBB}, 1, inner, "oops")
		var de *DataError
		if !errors.As(err, &de) {
			t.Fatalf("err = %T, wanted *DataError", err)
		}
		if !errors.Is(err, inner) {
			t.Fatalf("errors.Is(err, inner) = false, wanted true")
		}
		deepEqual(t, err.Error(), "oops: inner: (2 @1) aabb")
	})

	t.Run("large data includes prefix+suffix", func(t *testing.T) {
		data := make([]byte, 200)
		for i := range data {
			data[i] = byte(i)
		}
		s := dataErrf(data, 0, nil, "oops").Error()
		if !strings.HasPrefix(s, "oops: (200 @0) 0001") || !strings.Contains(s, "...") || !strings.HasSuffix(s, "c7") {
			t.Fatalf("err.Error() = %q", s)
		}
	})

	t.Run("no data", func(t *testing.T) {
		deepEqual(t, dataErrf(nil, 0, nil, "oops %d", 1).Error(), "oops 1")
	})
}

func TestConsistencyError(t *testing.T) {
	cls := testSchema.ClassNamed("Trade")
	err := consistencyErrf("lock", MakeTransientID(2, 1), cls, ErrNotPersisted, "cannot %v", LockUpdate)
	assertErrorIs(t, err, ErrNotPersisted)
	deepEqual(t, err.Error(), "lock Trade:e2.~1: object has no persistent id: cannot update")

	err = consistencyErrf("validate", MakeObjectID(4, 2), nil, nil, "")
	deepEqual(t, err.Error(), "validate e4.2")
}

func TestSchemaError(t *testing.T) {
	cls := testSchema.ClassNamed("Leg")
	e1 := configErrf(cls, "Rate", "bad")
	e2 := configErrf(nil, "", "worse")
	deepEqual(t, (&SchemaError{[]*ConfigError{e1}}).Error(), "invalid schema: Leg.Rate: bad")

	err := error(&SchemaError{[]*ConfigError{e1, e2, configErrf(cls, "", "ugly")}})
	deepEqual(t, err.Error(), "invalid schema (3 errors):\n  Leg.Rate: bad\n  worse\n  Leg: ugly")
	var ce *ConfigError
	if !errors.As(err, &ce) || ce != e1 {
		t.Errorf("errors.As found %v, wanted the first ConfigError", ce)
	}
	if !errors.Is(err, e2) {
		t.Errorf("errors.Is(err, e2) = false")
	}
}
