package edelta

import (
	"math"
	"testing"
	"time"
)

func TestCreateDelta_tradeAddsLeg(t *testing.T) {
	prior := newTrade("T1", 100, leg("L1", 0.05))
	current := newTrade("T1", 150, leg("L1", 0.05), leg("L2", 0.03))

	deltas := testSchema.CreateDelta(prior, current)
	deepEqual(t, describe(deltas), []string{"changed Trade T1 {Notional: 100 -> 150; Legs: [added Leg L2]}"})

	od := deltas[0]
	if od.Action != Changed {
		t.Errorf("Action = %v, wanted changed", od.Action)
	}
	if s := od.Key.String(); s != "T1" {
		t.Errorf("Key = %q, wanted T1", s)
	}
	n, ok := od.Delta("Notional").(*ScalarDelta[float64])
	if !ok {
		t.Fatalf("Notional delta = %T, wanted *ScalarDelta[float64]", od.Delta("Notional"))
	}
	if n.Prior != 100 || n.Current != 150 {
		t.Errorf("Notional = %v -> %v, wanted 100 -> 150", n.Prior, n.Current)
	}
	legs, ok := od.Delta("Legs").(*KeyedCollectionDelta)
	if !ok {
		t.Fatalf("Legs delta = %T, wanted *KeyedCollectionDelta", od.Delta("Legs"))
	}
	if len(legs.Items) != 1 || legs.Items[0].Action != Added || legs.Items[0].Object != current.Legs[1] {
		t.Errorf("Legs items = %v, wanted [added L2]", describe(legs.Items))
	}
	if legs.IsReferenceCollection() {
		t.Errorf("IsReferenceCollection = true, wanted false")
	}
}

func TestCreateDelta_tradeReplacesLeg(t *testing.T) {
	prior := newTrade("T1", 100, leg("L1", 0.05))
	current := newTrade("T1", 100, leg("L2", 0.03))

	deltas := testSchema.CreateDelta(prior, current)
	deepEqual(t, describe(deltas), []string{"changed Trade T1 {Legs: [removed Leg L1, added Leg L2]}"})
	if deltas[0].Delta("Notional") != nil {
		t.Errorf("Notional delta present, wanted none")
	}
}

func TestCreateDelta_changedLeg(t *testing.T) {
	prior := newTrade("T1", 100, leg("L1", 0.05), leg("L2", 0.03))
	current := newTrade("T1", 100, leg("L1", 0.05), leg("L2", 0.04))

	deltas := testSchema.CreateDelta(prior, current)
	deepEqual(t, describe(deltas), []string{"changed Trade T1 {Legs: [changed Leg L2 {Rate: 0.03 -> 0.04}]}"})
}

func TestCreateDelta_nilSides(t *testing.T) {
	tr := newTrade("T1", 100)
	if d := testSchema.CreateDelta(nil, nil); d != nil {
		t.Errorf("CreateDelta(nil, nil) = %v, wanted nil", describe(d))
	}
	deepEqual(t, describe(testSchema.CreateDelta(nil, tr)), []string{"added Trade T1"})
	deepEqual(t, describe(testSchema.CreateDelta(tr, nil)), []string{"removed Trade T1"})
	deepEqual(t, describe(testSchema.CreateDelta((*Trade)(nil), tr)), []string{"added Trade T1"})

	d := testSchema.CreateDelta(tr, nil)
	if d[0].Object != tr {
		t.Errorf("Removed delta does not wrap the prior object")
	}
}

func TestCreateDelta_identity(t *testing.T) {
	a := newTrade("T1", 100)
	a.SetObjectID(tradeID(1))
	b := newTrade("T1", 100)
	b.SetObjectID(tradeID(2))
	deepEqual(t, describe(testSchema.CreateDelta(a, b)), []string{"removed Trade T1", "added Trade T1"})

	// the object id wins over the business key
	c := newTrade("T2", 100)
	c.SetObjectID(tradeID(1))
	deepEqual(t, describe(testSchema.CreateDelta(a, c)), []string{"changed Trade T2 {TradeId: T1 -> T2}"})

	// without ids, the business key decides
	d := newTrade("T3", 100)
	e := newTrade("T4", 100)
	deepEqual(t, describe(testSchema.CreateDelta(d, e)), []string{"removed Trade T3", "added Trade T4"})
}

func TestCreateDelta_classMismatch(t *testing.T) {
	bond := &Bond{Instrument: Instrument{Code: "X"}}
	swap := &Swap{Instrument: Instrument{Code: "X"}}
	deepEqual(t, describe(testSchema.CreateDelta(bond, swap)), []string{"removed Bond X", "added Swap X"})
}

func TestCreateDelta_inheritedProperty(t *testing.T) {
	a := &Bond{Instrument: Instrument{EntityBase{MakeObjectID(6, 1)}, "B1"}, Coupon: 2}
	b := &Bond{Instrument: Instrument{EntityBase{MakeObjectID(6, 1)}, "B2"}, Coupon: 3}
	deepEqual(t, describe(testSchema.CreateDelta(a, b)), []string{"changed Bond B2 {Code: B1 -> B2; Coupon: 2 -> 3}"})

	code := testSchema.ClassNamed("Instrument").PropertyNamed("Code")
	if code.IsSame(a, b) {
		t.Errorf("Instrument.Code IsSame = true on bonds with different codes")
	}
	if v := code.Get(b); v != "B2" {
		t.Errorf("Instrument.Code.Get(bond) = %v, wanted B2", v)
	}
}

func TestCreateDelta_scalars(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a := newTrade("T1", 100)
	b := newTrade("T1", 100)
	b.Side = Sell
	b.Settled = &now
	b.Scratch = "ignored"
	deepEqual(t, describe(testSchema.CreateDelta(a, b)), []string{"changed Trade T1 {Side: buy -> sell; Settled: null -> 2024-03-01T10:00:00Z}"})

	// same instant in another zone
	local := now.In(time.FixedZone("X", 3600))
	c := newTrade("T1", 100)
	c.Side = Sell
	c.Settled = &local
	if !testSchema.IsSame(b, c) {
		t.Errorf("IsSame = false for equal instants in different zones")
	}
}

func TestCreateDelta_keyedOrderInvariance(t *testing.T) {
	prior := newTrade("T1", 100, leg("L1", 0.05), leg("L2", 0.03), leg("L3", 0.01))
	current := newTrade("T1", 100, leg("L3", 0.01), leg("L1", 0.05), leg("L2", 0.03))
	if d := testSchema.CreateDelta(prior, current); d != nil {
		t.Errorf("permuted legs: CreateDelta = %v, wanted nil", describe(d))
	}
	if !testSchema.IsSame(prior, current) {
		t.Errorf("permuted legs: IsSame = false")
	}
}

func TestCreateDelta_positionalList(t *testing.T) {
	d1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 1, 0)
	prior := newTrade("T1", 100)
	prior.Fixings = []*Fixing{{d1, 1}, {d2, 2}}
	current := newTrade("T1", 100)
	current.Fixings = []*Fixing{{d2, 2}, {d1, 1}}

	deltas := testSchema.CreateDelta(prior, current)
	if len(deltas) != 1 {
		t.Fatalf("CreateDelta = %v, wanted one delta", describe(deltas))
	}
	list, ok := deltas[0].Delta("Fixings").(*ListCollectionDelta)
	if !ok {
		t.Fatalf("Fixings delta = %T, wanted *ListCollectionDelta", deltas[0].Delta("Fixings"))
	}
	if len(list.Items) != 2 {
		t.Fatalf("Fixings items = %v, wanted 2", list)
	}
	for i, item := range list.Items {
		if item.Action != Changed || item.Index != i || len(item.Deltas) == 0 {
			t.Errorf("item %d = %v, wanted changed #%d", i, item, i)
		}
	}

	current.Fixings = append(current.Fixings, &Fixing{d2, 3})
	list = testSchema.CreateDelta(prior, current)[0].Delta("Fixings").(*ListCollectionDelta)
	last := list.Items[len(list.Items)-1]
	if last.Action != Added || last.Index != 2 {
		t.Errorf("tail item = %v, wanted added #2", last)
	}

	current.Fixings = []*Fixing{{d1, 1}}
	list = testSchema.CreateDelta(prior, current)[0].Delta("Fixings").(*ListCollectionDelta)
	deepEqual(t, list.String(), "Fixings: [removed #1]")
}

func TestCreateDelta_set(t *testing.T) {
	prior := newTrade("T1", 100)
	prior.Tags = []*Tag{{"a"}, {"b"}}
	current := newTrade("T1", 100)
	current.Tags = []*Tag{{"b"}, {"a"}}
	if !testSchema.IsSame(prior, current) {
		t.Errorf("reordered set: IsSame = false")
	}

	current.Tags = []*Tag{{"b"}, {"c"}}
	set, ok := testSchema.CreateDelta(prior, current)[0].Delta("Tags").(*SetCollectionDelta)
	if !ok {
		t.Fatalf("Tags delta is not a set delta")
	}
	deepEqual(t, set.String(), "Tags: [removed, added]")
	if set.Items[0].Prior.(*Tag).Name != "a" || set.Items[1].Current.(*Tag).Name != "c" {
		t.Errorf("Tags items = %v, wanted removed a, added c", set)
	}
}

func TestCreateDelta_map(t *testing.T) {
	prior := newTrade("T1", 100)
	prior.Flows = map[string]*Flow{"a": {1}, "b": {2}, "c": {3}}
	current := newTrade("T1", 100)
	current.Flows = map[string]*Flow{"b": {2}, "c": {4}, "d": {5}}

	m, ok := testSchema.CreateDelta(prior, current)[0].Delta("Flows").(*MapCollectionDelta)
	if !ok {
		t.Fatalf("Flows delta is not a map delta")
	}
	deepEqual(t, m.String(), "Flows: [removed [a], changed [c] [changed Flow {Amount: 3 -> 4}], added [d]]")
}

func TestCreateDelta_reference(t *testing.T) {
	b1 := &Book{EntityBase{MakeObjectID(1, 1)}, "Rates"}
	b2 := &Book{EntityBase{MakeObjectID(1, 2)}, "Credit"}
	prior := newTrade("T1", 100)
	prior.Book = b1
	current := newTrade("T1", 100)
	current.Book = &Book{EntityBase{MakeObjectID(1, 1)}, "Renamed"}
	if !testSchema.IsSame(prior, current) {
		t.Errorf("IsSame = false for references to the same entity")
	}

	current.Book = b2
	deepEqual(t, describe(testSchema.CreateDelta(prior, current)), []string{"changed Trade T1 {Book: Rates -> Credit}"})

	current.Book = nil
	ref := testSchema.CreateDelta(prior, current)[0].Delta("Book").(*ReferenceDelta)
	if ref.Prior != b1 || ref.Current != nil {
		t.Errorf("ReferenceDelta = %v, wanted Rates -> null", ref)
	}
}

func TestCreateDelta_referenceCollectionMembership(t *testing.T) {
	p1 := &Position{EntityBase{MakeObjectID(4, 1)}, "AAPL", 10, nil}
	p2 := &Position{EntityBase{MakeObjectID(4, 2)}, "MSFT", 20, nil}
	prior := &Portfolio{EntityBase: EntityBase{MakeObjectID(3, 1)}, Name: "P", Positions: []*Position{p1, p2}}

	changed := *p1
	changed.Quantity = 99
	current := &Portfolio{EntityBase: EntityBase{MakeObjectID(3, 1)}, Name: "P", Positions: []*Position{&changed}}

	deltas := testSchema.CreateDelta(prior, current)
	deepEqual(t, describe(deltas), []string{"changed Portfolio P {Positions: [removed Position MSFT]}"})
	if !deltas[0].Delta("Positions").(*KeyedCollectionDelta).IsReferenceCollection() {
		t.Errorf("IsReferenceCollection = false, wanted true")
	}
}

func TestIsSame_reflexive(t *testing.T) {
	tr := newTrade("T1", math.NaN(), leg("L1", math.NaN()))
	tr.Fixings = []*Fixing{{time.Now(), 1}}
	tr.Tags = []*Tag{{"x"}}
	tr.Flows = map[string]*Flow{"a": {math.NaN()}}
	clone := testSchema.Clone(tr)

	for _, pair := range [][2]any{{tr, tr}, {tr, clone}} {
		if !testSchema.IsSame(pair[0], pair[1]) {
			t.Errorf("IsSame(A, A) = false")
		}
		if d := testSchema.CreateDelta(pair[0], pair[1]); d != nil {
			t.Errorf("CreateDelta(A, A) = %v, wanted nil", describe(d))
		}
	}
}

func TestIsSame_symmetry(t *testing.T) {
	d1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b1 := &Book{EntityBase{MakeObjectID(1, 1)}, "Rates"}
	variants := []func(*Trade){
		func(tr *Trade) {},
		func(tr *Trade) { tr.Notional = 1 },
		func(tr *Trade) { tr.Side = Sell },
		func(tr *Trade) { tr.Settled = &d1 },
		func(tr *Trade) { tr.Book = b1 },
		func(tr *Trade) { tr.Legs = []*Leg{leg("L9", 1)} },
		func(tr *Trade) { tr.Legs[0].Rate = 9 },
		func(tr *Trade) { tr.Legs[0], tr.Legs[1] = tr.Legs[1], tr.Legs[0] },
		func(tr *Trade) { tr.Fixings = nil },
		func(tr *Trade) { tr.Fixings[0].Value = 7 },
		func(tr *Trade) { tr.Tags = append(tr.Tags, &Tag{"z"}) },
		func(tr *Trade) { tr.Flows["a"].Amount = 3 },
		func(tr *Trade) { delete(tr.Flows, "a") },
		func(tr *Trade) { tr.Scratch = "x" },
		func(tr *Trade) { tr.TradeID = "T2" },
	}
	build := func(f func(*Trade)) *Trade {
		tr := newTrade("T1", 100, leg("L1", 0.05), leg("L2", 0.03))
		tr.Fixings = []*Fixing{{d1, 1}}
		tr.Tags = []*Tag{{"x"}}
		tr.Flows = map[string]*Flow{"a": {1}}
		f(tr)
		return tr
	}

	cls := testSchema.ClassNamed("Trade")
	for i, fa := range variants {
		for j, fb := range variants {
			a, b := build(fa), build(fb)
			same := testSchema.IsSame(a, b)
			if nilDelta := testSchema.CreateDelta(a, b) == nil; same != nilDelta {
				t.Errorf("variants %d/%d: IsSame = %v, CreateDelta nil = %v", i, j, same, nilDelta)
			}
			for _, p := range cls.Properties() {
				if same, nilDelta := p.IsSame(a, b), p.CreateDelta(a, b) == nil; same != nilDelta {
					t.Errorf("variants %d/%d: %v.IsSame = %v, CreateDelta nil = %v", i, j, p, same, nilDelta)
				}
			}
		}
	}
}

func TestObjectDelta_propertyOrder(t *testing.T) {
	prior := newTrade("T1", 100, leg("L1", 0.05))
	current := newTrade("T1", 200)
	current.Side = Sell
	od := testSchema.CreateDelta(prior, current)[0]
	var names []string
	for _, pd := range od.PropertyDeltas {
		names = append(names, pd.Property().Name())
	}
	deepEqual(t, names, []string{"Notional", "Side", "Legs"})
	if od.Delta("Fixings") != nil {
		t.Errorf("Delta(Fixings) = %v, wanted nil", od.Delta("Fixings"))
	}
}

func TestCreateDelta_duplicateChildKeys(t *testing.T) {
	prior := newTrade("T1", 100, leg("L1", 0.05), leg("L1", 0.06))
	current := newTrade("T1", 100, leg("L1", 0.05))
	if testSchema.IsSame(prior, current) {
		t.Errorf("dropped duplicate: IsSame = true")
	}
	deltas := testSchema.CreateDelta(prior, current)
	deepEqual(t, describe(deltas), []string{"changed Trade T1 {Legs: [removed Leg L1]}"})
	if items := deltas[0].Delta("Legs").(*KeyedCollectionDelta).Items; items[0].Object != prior.Legs[1] {
		t.Errorf("removed %+v, wanted the second L1", items[0].Object)
	}

	deltas = testSchema.CreateDelta(current, prior)
	deepEqual(t, describe(deltas), []string{"changed Trade T1 {Legs: [added Leg L1]}"})
	if items := deltas[0].Delta("Legs").(*KeyedCollectionDelta).Items; items[0].Object != prior.Legs[1] {
		t.Errorf("added %+v, wanted the second L1", items[0].Object)
	}

	// duplicates pair up in order
	current = newTrade("T1", 100, leg("L1", 0.05), leg("L1", 0.07))
	deepEqual(t, describe(testSchema.CreateDelta(prior, current)), []string{"changed Trade T1 {Legs: [changed Leg L1 {Rate: 0.06 -> 0.07}]}"})
}

type Shelf struct {
	EntityBase
	Name  string
	Books map[string]*Book
	Tags  []*Tag
}

var shelfSchema = func() *Schema {
	scm := NewSchema(SchemaOptions{})
	DefineEntity(scm, "Book", func(b *ClassBuilder[Book]) {
		b.EntityID(1)
		String(b, "Name", func(v *Book) *string { return &v.Name }, KeyProp)
	})
	DefineEntity(scm, "Shelf", func(b *ClassBuilder[Shelf]) {
		b.EntityID(2)
		String(b, "Name", func(v *Shelf) *string { return &v.Name }, KeyProp)
		ReferenceMap(b, "Books", TString, func(v *Shelf) *map[string]*Book { return &v.Books })
		Components(b, "Tags", ShapeBag, func(v *Shelf) *[]*Tag { return &v.Tags })
	})
	DefineComponent(scm, "Tag", func(b *ClassBuilder[Tag]) {
		String(b, "Name", func(v *Tag) *string { return &v.Name })
	})
	return scm.MustSeal()
}()

func book(seq uint64, name string) *Book {
	return &Book{EntityBase{MakeObjectID(1, seq)}, name}
}

func TestCreateDelta_bag(t *testing.T) {
	prior := &Shelf{Name: "S", Tags: []*Tag{{"a"}, {"b"}}}
	current := &Shelf{Name: "S", Tags: []*Tag{{"b"}, {"a"}}}
	if d := shelfSchema.CreateDelta(prior, current); d != nil {
		t.Errorf("permuted bag: CreateDelta = %v, wanted nil", describe(d))
	}
	if !shelfSchema.IsSame(prior, current) {
		t.Errorf("permuted bag: IsSame = false")
	}

	current.Tags = append(current.Tags, &Tag{"c"})
	bag, ok := shelfSchema.CreateDelta(prior, current)[0].Delta("Tags").(*BagCollectionDelta)
	if !ok {
		t.Fatalf("Tags delta is not a bag delta")
	}
	deepEqual(t, bag.String(), "Tags: [added]")
	if bag.Items[0].Action != Added || bag.Items[0].Current.(*Tag).Name != "c" {
		t.Errorf("Tags items = %v, wanted added c", bag)
	}
}

func TestCreateDelta_referenceMap(t *testing.T) {
	prior := &Shelf{EntityBase: EntityBase{MakeObjectID(2, 1)}, Name: "S", Books: map[string]*Book{
		"w": book(1, "Rates"),
		"x": book(2, "Credit"),
		"y": book(3, "FX"),
	}}
	current := &Shelf{EntityBase: EntityBase{MakeObjectID(2, 1)}, Name: "S", Books: map[string]*Book{
		"w": book(1, "Renamed"),
		"x": book(4, "Equities"),
		"z": book(5, "Commodities"),
	}}
	current.Tags = []*Tag{{"new"}}

	deltas := shelfSchema.CreateDelta(prior, current)
	deepEqual(t, describe(deltas), []string{"changed Shelf S {Books: [changed [x], removed [y], added [z]]; Tags: [added]}"})
	books := deltas[0].Delta("Books").(*MapCollectionDelta)
	if books.Items[0].Prior != prior.Books["x"] || books.Items[0].Current != current.Books["x"] {
		t.Errorf("changed item = %v, wanted Credit -> Equities", books.Items[0])
	}

	codec := shelfSchema.MsgPack()
	data, err := codec.EncodeDeltas(nil, deltas)
	if err != nil {
		t.Fatalf("** EncodeDeltas: %v", err)
	}
	got, err := codec.DecodeDeltas(data)
	if err != nil {
		t.Fatalf("** DecodeDeltas: %v", err)
	}
	deepEqual(t, describe(got), describe(deltas))
	items := got[0].Delta("Books").(*MapCollectionDelta).Items
	if stub, ok := items[2].Current.(*Book); !ok || stub.ObjectID() != MakeObjectID(1, 5) {
		t.Errorf("decoded added book = %+v, wanted a stub of e1.5", items[2].Current)
	}
	if _, ok := got[0].Delta("Tags").(*BagCollectionDelta); !ok {
		t.Errorf("decoded Tags delta = %T, wanted *BagCollectionDelta", got[0].Delta("Tags"))
	}
}
