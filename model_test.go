package edelta

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

type Side int32

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "?"
	}
}

type (
	Book struct {
		EntityBase
		Name string
	}

	Trade struct {
		EntityBase
		TradeID  string
		Notional float64
		Side     Side
		Settled  *time.Time
		Book     *Book
		Legs     []*Leg
		Fixings  []*Fixing
		Tags     []*Tag
		Flows    map[string]*Flow
		Scratch  string
	}

	Leg struct {
		LegID    string
		Rate     float64
		Currency string
	}

	Fixing struct {
		Date  time.Time
		Value float64
	}

	Tag struct {
		Name string
	}

	Flow struct {
		Amount float64
	}

	Portfolio struct {
		EntityBase
		Name      string
		Positions []*Position
		Book      *Book
		Hedge     Asset
	}

	Position struct {
		EntityBase
		Symbol   string
		Quantity float64
		Lots     []*Lot
	}

	Lot struct {
		EntityBase
		LotNo    int32
		Quantity float64
	}

	Asset interface {
		Entity
		AssetCode() string
	}

	Instrument struct {
		EntityBase
		Code string
	}

	Bond struct {
		Instrument
		Coupon float64
	}

	Swap struct {
		Instrument
		FixedRate float64
	}
)

func (i *Instrument) AssetCode() string {
	return i.Code
}

var testSchema = buildTestSchema(SchemaOptions{})

func buildTestSchema(opt SchemaOptions) *Schema {
	scm := NewSchema(opt)
	DefineEntity(scm, "Book", func(b *ClassBuilder[Book]) {
		b.EntityID(1)
		String(b, "Name", func(v *Book) *string { return &v.Name }, KeyProp)
	})
	DefineEntity(scm, "Trade", func(b *ClassBuilder[Trade]) {
		b.EntityID(2)
		String(b, "TradeId", func(v *Trade) *string { return &v.TradeID }, KeyProp)
		Double(b, "Notional", func(v *Trade) *float64 { return &v.Notional })
		Enum(b, "Side", func(v *Trade) *Side { return &v.Side })
		NullableScalar(b, "Settled", TDateTime, func(v *Trade) **time.Time { return &v.Settled })
		Reference(b, "Book", func(v *Trade) **Book { return &v.Book })
		Components(b, "Legs", ShapeList, func(v *Trade) *[]*Leg { return &v.Legs })
		Components(b, "Fixings", ShapeList, func(v *Trade) *[]*Fixing { return &v.Fixings })
		Components(b, "Tags", ShapeSet, func(v *Trade) *[]*Tag { return &v.Tags })
		ComponentMap(b, "Flows", TString, func(v *Trade) *map[string]*Flow { return &v.Flows })
		String(b, "Scratch", func(v *Trade) *string { return &v.Scratch }, TransientProp)
	})
	DefineComponent(scm, "Leg", func(b *ClassBuilder[Leg]) {
		String(b, "LegId", func(v *Leg) *string { return &v.LegID }, ChildKeyProp)
		Double(b, "Rate", func(v *Leg) *float64 { return &v.Rate })
		String(b, "Currency", func(v *Leg) *string { return &v.Currency })
	})
	DefineComponent(scm, "Fixing", func(b *ClassBuilder[Fixing]) {
		DateTime(b, "Date", func(v *Fixing) *time.Time { return &v.Date })
		Double(b, "Value", func(v *Fixing) *float64 { return &v.Value })
	})
	DefineComponent(scm, "Tag", func(b *ClassBuilder[Tag]) {
		String(b, "Name", func(v *Tag) *string { return &v.Name })
	})
	DefineComponent(scm, "Flow", func(b *ClassBuilder[Flow]) {
		Double(b, "Amount", func(v *Flow) *float64 { return &v.Amount })
	})
	DefineEntity(scm, "Portfolio", func(b *ClassBuilder[Portfolio]) {
		b.EntityID(3)
		String(b, "Name", func(v *Portfolio) *string { return &v.Name }, KeyProp)
		References(b, "Positions", ShapeList, func(v *Portfolio) *[]*Position { return &v.Positions }, CascadeAllDeleteOrphan)
		Reference(b, "Book", func(v *Portfolio) **Book { return &v.Book })
		Reference(b, "Hedge", func(v *Portfolio) *Asset { return &v.Hedge })
	})
	DefineEntity(scm, "Position", func(b *ClassBuilder[Position]) {
		b.EntityID(4)
		b.Child()
		String(b, "Symbol", func(v *Position) *string { return &v.Symbol }, KeyProp)
		Double(b, "Quantity", func(v *Position) *float64 { return &v.Quantity })
		References(b, "Lots", ShapeList, func(v *Position) *[]*Lot { return &v.Lots }, CascadeAll)
	})
	DefineEntity(scm, "Lot", func(b *ClassBuilder[Lot]) {
		b.EntityID(5)
		b.Child()
		Int(b, "LotNo", func(v *Lot) *int32 { return &v.LotNo }, KeyProp)
		Double(b, "Quantity", func(v *Lot) *float64 { return &v.Quantity })
	})
	DefineEntity(scm, "Instrument", func(b *ClassBuilder[Instrument]) {
		b.Abstract()
		b.SubclassStrategy(TablePerHierarchy)
		String(b, "Code", func(v *Instrument) *string { return &v.Code }, KeyProp)
	})
	DefineEntity(scm, "Bond", func(b *ClassBuilder[Bond]) {
		b.EntityID(6)
		Extends(b, func(v *Bond) *Instrument { return &v.Instrument })
		Double(b, "Coupon", func(v *Bond) *float64 { return &v.Coupon })
	})
	DefineEntity(scm, "Swap", func(b *ClassBuilder[Swap]) {
		b.EntityID(7)
		Extends(b, func(v *Swap) *Instrument { return &v.Instrument })
		Double(b, "FixedRate", func(v *Swap) *float64 { return &v.FixedRate })
	})
	return scm.MustSeal()
}

func tradeID(seq uint64) ObjectID {
	return MakeObjectID(2, seq)
}

func newTrade(id string, notional float64, legs ...*Leg) *Trade {
	return &Trade{TradeID: id, Notional: notional, Side: Buy, Legs: legs}
}

func leg(id string, rate float64) *Leg {
	return &Leg{LegID: id, Rate: rate, Currency: "USD"}
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func assertPanics(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	fn()
}

func assertErrorIs(t testing.TB, err, target error) {
	if !errors.Is(err, target) {
		t.Helper()
		t.Fatalf("** got error %v, wanted %v", err, target)
	}
}

func describe(deltas []*ObjectDelta) []string {
	var result []string
	for _, od := range deltas {
		result = append(result, od.String())
	}
	return result
}
