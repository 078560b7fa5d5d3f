package edelta

import (
	"fmt"
	"slices"
	"strings"
)

const keyPartSep = "|"

// Key identifies an object within its class: by business (or child) key
// values when the class declares them, otherwise by object id.
type Key struct {
	id    ObjectID
	parts []string
}

func MakeKey(id ObjectID, parts ...string) Key {
	return Key{id, parts}
}

func (k Key) ID() ObjectID     { return k.id }
func (k Key) Parts() []string  { return slices.Clone(k.parts) }
func (k Key) IsZero() bool     { return k.id == 0 && len(k.parts) == 0 }
func (k Key) Equal(o Key) bool { return k.id == o.id && slices.Equal(k.parts, o.parts) }
func (k Key) HasParts() bool   { return len(k.parts) > 0 }

func (k Key) String() string {
	if len(k.parts) > 0 {
		return strings.Join(k.parts, keyPartSep)
	}
	if k.id != 0 {
		return k.id.String()
	}
	return ""
}

// KeyOf returns the display key of obj: the business key for entities
// (falling back to the object id when the key is unset), the child key for
// components. A nil obj has the zero key.
func (scm *Schema) KeyOf(obj any) Key {
	if obj == nil {
		return Key{}
	}
	cls := scm.ClassOf(obj)
	if !cls.isEntity {
		return Key{parts: keyParts(cls.childKey, obj)}
	}
	id := objectIDOf(obj)
	if len(cls.businessKey) == 0 || (id != 0 && allDefault(cls.businessKey, obj)) {
		return Key{id: id}
	}
	return Key{id: id, parts: keyParts(cls.businessKey, obj)}
}

func keyParts(props []PropertyMeta, obj any) []string {
	if len(props) == 0 {
		return nil
	}
	parts := make([]string, len(props))
	for i, p := range props {
		parts[i] = p.(*scalarProp).format(p.base().get(obj))
	}
	return parts
}

func allDefault(props []PropertyMeta, obj any) bool {
	for _, p := range props {
		if !p.isDefaultValue(p.base().get(obj)) {
			return false
		}
	}
	return true
}

// identity returns the matching key of obj inside keyed collections:
// the child key for components, the object id (or business key, or
// address) for entities.
func (scm *Schema) identity(obj any) string {
	cls := scm.ClassOf(obj)
	if !cls.isEntity {
		return "=" + cls.name + ":" + strings.Join(keyParts(cls.childKey, obj), keyPartSep)
	}
	if id := objectIDOf(obj); id != 0 {
		return "#" + id.String()
	}
	if len(cls.businessKey) > 0 {
		return "=" + cls.chainRoot().name + ":" + strings.Join(keyParts(cls.businessKey, obj), keyPartSep)
	}
	return fmt.Sprintf("@%p", obj)
}
