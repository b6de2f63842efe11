// Package bitfield packs and unpacks struct fields into a single
// integer using a "bitfield" struct tag. Generalized from the
// teacher's mazarin/bitfield package (itself a simplified version of
// golang.org/x/text/internal/gen/bitfield). In this kernel it packs
// the FAT directory-entry attribute byte (internal/fat); page
// permissions and open flags use hand-written masks.
package bitfield

import (
	"fmt"
	"reflect"
)

// Config controls packing width.
type Config struct {
	// NumBits caps the integer representation; zero (or a nil Config)
	// means 64. Any other value is used as given, not rounded up to
	// 8, 16, 32 or 64.
	NumBits uint
}

func (c *Config) numBits() uint {
	if c == nil || c.NumBits == 0 {
		return 64
	}
	return c.NumBits
}

// Pack compacts every field of the struct x tagged `bitfield:",N"`
// into a single integer, in declaration order, low bits first.
func Pack(x interface{}, c *Config) (uint64, error) {
	v := reflect.ValueOf(x)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return 0, fmt.Errorf("bitfield: Pack: expected struct, got %v", v.Kind())
	}

	t := v.Type()
	var packed uint64
	var bitOffset uint
	maxBits := c.numBits()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		bits, ok, err := fieldBits(field)
		if err != nil {
			return 0, err
		}
		if !ok || bits == 0 {
			continue
		}
		if bitOffset+bits > maxBits {
			return 0, fmt.Errorf("bitfield: Pack: field %s overflows %d-bit representation", field.Name, maxBits)
		}

		fv := v.Field(i)
		var raw uint64
		switch fv.Kind() {
		case reflect.Bool:
			if fv.Bool() {
				raw = 1
			}
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			raw = fv.Uint()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			val := fv.Int()
			if val < 0 {
				return 0, fmt.Errorf("bitfield: Pack: field %s is negative", field.Name)
			}
			raw = uint64(val)
		default:
			return 0, fmt.Errorf("bitfield: Pack: unsupported field kind %v on %s", fv.Kind(), field.Name)
		}

		mask := uint64(1)<<bits - 1
		packed |= (raw & mask) << bitOffset
		bitOffset += bits
	}

	return packed, nil
}

// Unpack is the inverse of Pack: it fills the tagged fields of the
// struct pointed to by x from packed, in the same declaration order.
func Unpack(packed uint64, x interface{}, c *Config) error {
	v := reflect.ValueOf(x)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("bitfield: Unpack: expected pointer to struct")
	}
	v = v.Elem()
	t := v.Type()
	var bitOffset uint

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		bits, ok, err := fieldBits(field)
		if err != nil {
			return err
		}
		if !ok || bits == 0 {
			continue
		}

		mask := uint64(1)<<bits - 1
		raw := (packed >> bitOffset) & mask
		bitOffset += bits

		fv := v.Field(i)
		if !fv.CanSet() {
			continue
		}
		switch fv.Kind() {
		case reflect.Bool:
			fv.SetBool(raw != 0)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			fv.SetUint(raw)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			fv.SetInt(int64(raw))
		default:
			return fmt.Errorf("bitfield: Unpack: unsupported field kind %v on %s", fv.Kind(), field.Name)
		}
	}
	return nil
}

func fieldBits(field reflect.StructField) (bits uint, ok bool, err error) {
	tag := field.Tag.Get("bitfield")
	if tag == "" {
		return 0, false, nil
	}
	var n uint
	if _, scanErr := fmt.Sscanf(tag, ",%d", &n); scanErr != nil {
		return 0, false, fmt.Errorf("bitfield: invalid tag %q on field %s", tag, field.Name)
	}
	return n, true, nil
}
