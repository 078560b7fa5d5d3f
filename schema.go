package edelta

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

var (
	entityType       = reflect.TypeFor[Entity]()
	timeType         = reflect.TypeFor[time.Time]()
	nullableTimeType = reflect.TypeFor[*time.Time]()
)

// Historization selects how a class's ValidFrom property takes part in
// child-key identity.
type Historization int

const (
	// HistorizationIgnore leaves keys alone; ValidFrom is an ordinary property.
	HistorizationIgnore Historization = iota

	// HistorizationKeyWithValidFrom appends the ValidFrom property to the
	// child key of every class whose child key falls back to its business
	// key, so that successive versions of a record are distinct items.
	HistorizationKeyWithValidFrom
)

type SchemaOptions struct {
	Historization Historization
}

// Schema is the registry of class descriptors. Classes are defined with
// DefineEntity/DefineComponent, then Seal cross-links and validates them;
// after Seal the schema is immutable and safe for concurrent use.
type Schema struct {
	opts               SchemaOptions
	classes            []*ClassMeta
	classesByLowerName map[string]*ClassMeta
	classesByType      map[reflect.Type]*ClassMeta
	classesByEntityID  map[int]*ClassMeta
	errs               []*ConfigError
	sealAttempted      bool
	sealed             bool
	sealErr            error
}

func NewSchema(opt SchemaOptions) *Schema {
	scm := &Schema{opts: opt}
	scm.init()
	return scm
}

func (scm *Schema) init() {
	if scm.classesByLowerName == nil {
		scm.classesByLowerName = make(map[string]*ClassMeta)
		scm.classesByType = make(map[reflect.Type]*ClassMeta)
		scm.classesByEntityID = make(map[int]*ClassMeta)
	}
}

func (scm *Schema) Options() SchemaOptions {
	return scm.opts
}

func (scm *Schema) IsSealed() bool {
	return scm.sealed
}

func (scm *Schema) addClass(cls *ClassMeta) {
	lower := strings.ToLower(cls.name)
	if cls.name == "" {
		scm.errs = append(scm.errs, configErrf(nil, "", "class of type %v has no name", cls.goType))
	} else if prev := scm.classesByLowerName[lower]; prev != nil {
		scm.errs = append(scm.errs, configErrf(cls, "", "duplicate class name (also used by type %v)", prev.goType))
	} else {
		scm.classesByLowerName[lower] = cls
	}
	if prev := scm.classesByType[cls.goType]; prev != nil {
		scm.errs = append(scm.errs, configErrf(cls, "", "type %v is already registered as %s", cls.goType, prev.name))
	} else {
		scm.classesByType[cls.goType] = cls
	}
	cls.pos = len(scm.classes)
	scm.classes = append(scm.classes, cls)
}

func (scm *Schema) Classes() []*ClassMeta {
	scm.mustBeSealed()
	return append([]*ClassMeta(nil), scm.classes...)
}

// ClassNamed finds a class by case-insensitive name, or returns nil.
func (scm *Schema) ClassNamed(name string) *ClassMeta {
	scm.mustBeSealed()
	return scm.classesByLowerName[strings.ToLower(name)]
}

// ClassByType returns the class registered for t (a pointer to the class's
// struct type). Unknown types are a programming error and panic.
func (scm *Schema) ClassByType(t reflect.Type) *ClassMeta {
	scm.mustBeSealed()
	cls := scm.classesByType[t]
	if cls == nil {
		panic(fmt.Errorf("no class defined for type %v", t))
	}
	return cls
}

func (scm *Schema) ClassOf(obj any) *ClassMeta {
	if obj == nil {
		panic("ClassOf(nil)")
	}
	return scm.ClassByType(reflect.TypeOf(obj))
}

// ClassByEntityID finds a concrete entity class by its type tag, or returns nil.
func (scm *Schema) ClassByEntityID(id int) *ClassMeta {
	scm.mustBeSealed()
	return scm.classesByEntityID[id]
}

// ClassByObjectID resolves the concrete class from the entity id embedded
// in an object id, or returns nil.
func (scm *Schema) ClassByObjectID(id ObjectID) *ClassMeta {
	if id.IsZero() {
		return nil
	}
	return scm.ClassByEntityID(id.EntityID())
}

func (scm *Schema) mustBeSealed() {
	if !scm.sealed {
		panic("schema is not sealed")
	}
}

// MustSeal is Seal that panics on configuration errors.
func (scm *Schema) MustSeal() *Schema {
	if err := scm.Seal(); err != nil {
		panic(err)
	}
	return scm
}

// Seal cross-links the registered classes (base to derived, properties to
// referenced classes, inverse cascades) and validates them. All problems
// are reported together as a *SchemaError.
func (scm *Schema) Seal() error {
	if scm.sealAttempted {
		return scm.sealErr
	}
	scm.sealAttempted = true

	errs := append([]*ConfigError(nil), scm.errs...)
	errs = append(errs, scm.linkBases()...)

	state := make(map[*ClassMeta]bool, len(scm.classes))
	for _, cls := range scm.classes {
		errs = append(errs, scm.buildProperties(cls, state)...)
	}
	for _, cls := range scm.classes {
		errs = append(errs, scm.buildKeys(cls)...)
	}
	for _, cls := range scm.classes {
		for _, p := range cls.props {
			errs = append(errs, p.link(scm)...)
			if c := p.Cascade(); c != nil {
				cls.cascades = append(cls.cascades, c)
			}
		}
	}
	for _, cls := range scm.classes {
		errs = append(errs, scm.linkInverses(cls)...)
		errs = append(errs, scm.checkClass(cls)...)
	}

	if len(errs) > 0 {
		scm.sealErr = &SchemaError{errs}
		return scm.sealErr
	}
	for _, cls := range scm.classes {
		cls.sealed = true
	}
	scm.sealed = true
	return nil
}

func (scm *Schema) linkBases() []*ConfigError {
	var errs []*ConfigError
	for _, cls := range scm.classes {
		if cls.baseType == nil {
			continue
		}
		base := scm.classesByType[cls.baseType]
		switch {
		case base == nil:
			errs = append(errs, configErrf(cls, "", "extends unregistered type %v", cls.baseType))
			continue
		case base.isEntity != cls.isEntity:
			errs = append(errs, configErrf(cls, "", "cannot derive from %s: entity and component classes cannot be mixed in one inheritance chain", base.name))
			continue
		}
		cls.base = base
		base.derived = append(base.derived, cls)
	}
	for _, cls := range scm.classes {
		n := 0
		for c := cls.base; c != nil; c = c.base {
			if c == cls || n > len(scm.classes) {
				errs = append(errs, configErrf(cls, "", "inheritance cycle"))
				cls.base = nil
				break
			}
			n++
		}
	}
	for _, cls := range scm.classes {
		if cls.base == nil {
			continue
		}
		if cls.strategy != SubclassUnspecified {
			errs = append(errs, configErrf(cls, "", "derived class cannot re-declare the subclass strategy"))
		}
		if cls.defaultCascadeSet {
			errs = append(errs, configErrf(cls, "", "derived class cannot re-declare the default cascade"))
		}
		for _, p := range cls.declared {
			if p.IsKey() {
				errs = append(errs, configErrf(cls, p.Name(), "derived class cannot re-declare the business key"))
			}
		}
		if cls.chainRoot().child {
			cls.child = true
		}
	}
	return errs
}

// buildProperties assembles the property list, base class properties first.
func (scm *Schema) buildProperties(cls *ClassMeta, done map[*ClassMeta]bool) []*ConfigError {
	if done[cls] {
		return nil
	}
	done[cls] = true

	var errs []*ConfigError
	var props []PropertyMeta
	if cls.base != nil {
		errs = append(errs, scm.buildProperties(cls.base, done)...)
		for _, p := range cls.base.props {
			props = append(props, p.inherit(cls, cls.upcast))
		}
	}
	props = append(props, cls.declared...)

	cls.props = props
	cls.propsByName = make(map[string]PropertyMeta, len(props))
	for i, p := range props {
		p.base().index = i
		if p.Name() == "" {
			errs = append(errs, configErrf(cls, "", "property #%d has no name", i))
			continue
		}
		if cls.propsByName[p.Name()] != nil {
			errs = append(errs, configErrf(cls, p.Name(), "duplicate property name"))
			continue
		}
		cls.propsByName[p.Name()] = p
		if p.Persistent() {
			cls.persistent = append(cls.persistent, p)
		}
	}
	return errs
}

func (scm *Schema) buildKeys(cls *ClassMeta) []*ConfigError {
	var errs []*ConfigError
	var childKey []PropertyMeta
	for _, p := range cls.props {
		if p.IsKey() {
			cls.businessKey = append(cls.businessKey, p)
		}
		if p.IsChildKey() {
			childKey = append(childKey, p)
		}
		if p.IsValidFrom() {
			if cls.validFrom != nil {
				errs = append(errs, configErrf(cls, p.Name(), "more than one ValidFrom property (also %s)", cls.validFrom.Name()))
				continue
			}
			if sp, ok := p.(*scalarProp); !ok || (sp.typ.goType() != timeType && sp.typ.goType() != nullableTimeType) {
				errs = append(errs, configErrf(cls, p.Name(), "ValidFrom property must be a datetime"))
				continue
			}
			cls.validFrom = p
		}
	}
	if childKey == nil && len(cls.businessKey) > 0 {
		childKey = append(childKey, cls.businessKey...)
		if scm.opts.Historization == HistorizationKeyWithValidFrom && cls.validFrom != nil && !cls.validFrom.IsKey() {
			childKey = append(childKey, cls.validFrom)
		}
	}
	cls.childKey = childKey
	return errs
}

func (scm *Schema) linkInverses(cls *ClassMeta) []*ConfigError {
	var errs []*ConfigError
	for _, c := range cls.cascades {
		if !c.inverse || c.mirror != nil {
			continue
		}
		m := c.FindInverse()
		if m == nil {
			errs = append(errs, configErrf(cls, c.prop.name, "inverse reference has no mirror with join key %q", c.joinKey))
			continue
		}
		c.mirror = m
		if m.mirror == nil {
			m.mirror = c
		}
	}
	return errs
}

func (scm *Schema) checkClass(cls *ClassMeta) []*ConfigError {
	var errs []*ConfigError
	if cls.goType.Elem().Kind() != reflect.Struct {
		errs = append(errs, configErrf(cls, "", "missing default constructor: %v is not a struct type", cls.goType.Elem()))
	}
	if cls.isEntity && !cls.goType.Implements(entityType) {
		errs = append(errs, configErrf(cls, "", "%v does not implement Entity (embed EntityBase)", cls.goType))
	}
	if cls.base == nil && len(cls.derived) > 0 && cls.strategy == SubclassUnspecified {
		errs = append(errs, configErrf(cls, "", "inheritance chain with derived classes must declare a subclass strategy"))
	}

	switch {
	case !cls.isEntity && cls.entityID != 0:
		errs = append(errs, configErrf(cls, "", "component class cannot have an entity id"))
	case cls.abstract && cls.entityID != 0:
		errs = append(errs, configErrf(cls, "", "abstract class cannot have an entity id"))
	case cls.isEntity && !cls.abstract && cls.entityID == 0:
		errs = append(errs, configErrf(cls, "", "concrete entity class needs an entity id"))
	case cls.entityID < 0 || cls.entityID > MaxEntityID:
		errs = append(errs, configErrf(cls, "", "entity id %d out of range 1..%d", cls.entityID, MaxEntityID))
	case cls.entityID != 0:
		if prev := scm.classesByEntityID[cls.entityID]; prev != nil {
			errs = append(errs, configErrf(cls, "", "duplicate entity id %d (also used by %s)", cls.entityID, prev.name))
		} else {
			scm.classesByEntityID[cls.entityID] = cls
		}
	}
	return errs
}
