package job

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
)

// TargetTypeHandler is the target type of descriptors produced by typed
// definitions and run by the handler Registry.
const TargetTypeHandler = "handler"

// Descriptor is the serializable description of what a job runs. It is an
// opaque value to the core: runners interpret it, the core only hashes it.
type Descriptor struct {
	TargetType   string            `json:"target_type" msgpack:"target_type"`
	TargetMember string            `json:"target_member" msgpack:"target_member"`
	Parameters   []json.RawMessage `json:"parameters,omitempty" msgpack:"parameters,omitempty"`

	// Cacheable allows runner resolution for this target to be memoized.
	Cacheable bool `json:"cacheable" msgpack:"cacheable"`
}

// NewDescriptor JSON-encodes params into a descriptor.
func NewDescriptor(targetType, member string, params ...any) (Descriptor, error) {
	d := Descriptor{TargetType: targetType, TargetMember: member, Cacheable: true}
	for i, p := range params {
		raw, err := json.Marshal(p)
		if err != nil {
			return Descriptor{}, fmt.Errorf("shepherd/job: encode parameter %d of %s: %w", i, d.Key(), err)
		}
		d.Parameters = append(d.Parameters, raw)
	}
	return d, nil
}

// Key names the target as "type.member".
func (d Descriptor) Key() string {
	return d.TargetType + "." + d.TargetMember
}

// Param decodes parameter i into v.
func (d Descriptor) Param(i int, v any) error {
	if i < 0 || i >= len(d.Parameters) {
		return fmt.Errorf("shepherd/job: %s has no parameter %d", d.Key(), i)
	}
	if err := json.Unmarshal(d.Parameters[i], v); err != nil {
		return fmt.Errorf("shepherd/job: decode parameter %d of %s: %w", i, d.Key(), err)
	}
	return nil
}

// Signature is a stable hash of the target and its parameters.
func (d Descriptor) Signature() string {
	h := sha256.New()
	h.Write([]byte(d.TargetType))
	h.Write([]byte{0})
	h.Write([]byte(d.TargetMember))
	for _, p := range d.Parameters {
		h.Write([]byte{0})
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Clone returns a deep copy of the descriptor.
func (d Descriptor) Clone() Descriptor {
	c := d
	if d.Parameters != nil {
		c.Parameters = make([]json.RawMessage, len(d.Parameters))
		for i, p := range d.Parameters {
			c.Parameters[i] = slices.Clone(p)
		}
	}
	return c
}
