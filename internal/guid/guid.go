// Package guid defines the composite identifier for indexable objects.
//
// A GUID names an object by the storage system that owns it, the access
// group (workspace) the object lives in, the object id within that group,
// and optionally a version and a sub-object component (for entities embedded
// within a parent object, such as a feature within a genome).
//
// The string form is "CODE:group/object[/version][:subtype/subid]", for
// example "WS:42/7/3:feature/gene.17". Parse and String round-trip exactly,
// including presence or absence of the version and sub-object components.
package guid

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxLength bounds the encoded GUID. Longer ids are rejected because the
// search storage uses the encoded form as a document key.
const MaxLength = 512

// GUID is an immutable composite identifier. The zero Version means the GUID
// carries no version; such a GUID identifies the object but must not be used
// to request data. Equality and ordering are structural.
type GUID struct {
	StorageCode   string
	AccessGroupID int
	ObjectID      string
	Version       int // 0 means absent
	SubObjectType string
	SubObjectID   string
}

// New creates a versionless GUID.
func New(storageCode string, accessGroupID int, objectID string) GUID {
	return GUID{StorageCode: storageCode, AccessGroupID: accessGroupID, ObjectID: objectID}
}

// HasVersion reports whether the GUID may be used to request object data.
func (g GUID) HasVersion() bool {
	return g.Version > 0
}

// IsSubObject reports whether the GUID names an entity embedded in a parent
// object.
func (g GUID) IsSubObject() bool {
	return g.SubObjectType != "" || g.SubObjectID != ""
}

// Parent returns the GUID with the sub-object component dropped. A GUID with
// a sub-object component always logically nests under its parent.
func (g GUID) Parent() GUID {
	g.SubObjectType = ""
	g.SubObjectID = ""
	return g
}

// WithSubObject returns a copy of g carrying the given sub-object component.
func (g GUID) WithSubObject(subType, subID string) GUID {
	g.SubObjectType = subType
	g.SubObjectID = subID
	return g
}

// WithVersion returns a copy of g carrying the given version.
func (g GUID) WithVersion(version int) GUID {
	g.Version = version
	return g
}

// String encodes the GUID. The inverse of Parse.
func (g GUID) String() string {
	var b strings.Builder
	b.WriteString(g.StorageCode)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(g.AccessGroupID))
	b.WriteByte('/')
	b.WriteString(g.ObjectID)
	if g.Version > 0 {
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(g.Version))
	}
	if g.IsSubObject() {
		b.WriteByte(':')
		b.WriteString(g.SubObjectType)
		b.WriteByte('/')
		b.WriteString(g.SubObjectID)
	}
	return b.String()
}

// Less orders GUIDs structurally, field by field.
func (g GUID) Less(o GUID) bool {
	if g.StorageCode != o.StorageCode {
		return g.StorageCode < o.StorageCode
	}
	if g.AccessGroupID != o.AccessGroupID {
		return g.AccessGroupID < o.AccessGroupID
	}
	if g.ObjectID != o.ObjectID {
		return g.ObjectID < o.ObjectID
	}
	if g.Version != o.Version {
		return g.Version < o.Version
	}
	if g.SubObjectType != o.SubObjectType {
		return g.SubObjectType < o.SubObjectType
	}
	return g.SubObjectID < o.SubObjectID
}

// Parse decodes the string form of a GUID.
func Parse(s string) (GUID, error) {
	if len(s) > MaxLength {
		return GUID{}, fmt.Errorf("guid longer than %d characters", MaxLength)
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return GUID{}, fmt.Errorf("invalid guid %q", s)
	}
	g := GUID{StorageCode: parts[0]}
	if g.StorageCode == "" {
		return GUID{}, fmt.Errorf("invalid guid %q: empty storage code", s)
	}
	main := strings.Split(parts[1], "/")
	if len(main) < 2 || len(main) > 3 {
		return GUID{}, fmt.Errorf("invalid guid %q: bad object part", s)
	}
	group, err := strconv.Atoi(main[0])
	if err != nil {
		return GUID{}, fmt.Errorf("invalid guid %q: bad access group id", s)
	}
	g.AccessGroupID = group
	g.ObjectID = main[1]
	if g.ObjectID == "" {
		return GUID{}, fmt.Errorf("invalid guid %q: empty object id", s)
	}
	if len(main) == 3 {
		ver, err := strconv.Atoi(main[2])
		if err != nil || ver < 1 {
			return GUID{}, fmt.Errorf("invalid guid %q: bad version", s)
		}
		g.Version = ver
	}
	if len(parts) == 3 {
		sub := strings.SplitN(parts[2], "/", 2)
		if len(sub) != 2 || sub[0] == "" || sub[1] == "" {
			return GUID{}, fmt.Errorf("invalid guid %q: bad sub-object part", s)
		}
		g.SubObjectType = sub[0]
		g.SubObjectID = sub[1]
	}
	return g, nil
}

// FromRef builds a GUID from a source-system reference string such as
// "42/7/3" or "42/7", attaching the given storage code. References use the
// same group/object[/version] layout as the middle section of the encoded
// GUID.
func FromRef(storageCode, ref string) (GUID, error) {
	g, err := Parse(storageCode + ":" + ref)
	if err != nil {
		return GUID{}, fmt.Errorf("invalid reference %q: %w", ref, err)
	}
	return g, nil
}

// Ref encodes the group/object[/version] section of the GUID, the form used
// in reference paths against the source system.
func (g GUID) Ref() string {
	s := strconv.Itoa(g.AccessGroupID) + "/" + g.ObjectID
	if g.Version > 0 {
		s += "/" + strconv.Itoa(g.Version)
	}
	return s
}
