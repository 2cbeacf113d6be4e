package codec

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/jackc/pgx/v5/pgtype"
)

// pgxCodec adapts a Codec to pgtype.Codec. Values the Codec does not accept
// fall through to the codec previously registered for the same type, so
// registering over a built-in type keeps its other Go mappings working.
type pgxCodec struct {
	c        Codec
	fallback pgtype.Codec
}

// PGX adapts c for registration on a pgtype.Map. fallback may be nil.
func PGX(c Codec, fallback pgtype.Codec) pgtype.Codec {
	return &pgxCodec{c: c, fallback: fallback}
}

// Register installs c on m under name, keeping any codec already registered
// for the same type identifier as fallback.
func Register(m *pgtype.Map, name string, c Codec) {
	var fallback pgtype.Codec
	if t, ok := m.TypeForOID(c.OID()); ok {
		fallback = t.Codec
		if prev, ok := fallback.(*pgxCodec); ok {
			fallback = prev.fallback
		}
	}
	m.RegisterType(&pgtype.Type{Name: name, OID: c.OID(), Codec: PGX(c, fallback)})
}

func (p *pgxCodec) FormatSupported(format int16) bool {
	if format == pgtype.BinaryFormatCode {
		return true
	}
	return p.fallback != nil && p.fallback.FormatSupported(format)
}

func (p *pgxCodec) PreferredFormat() int16 {
	return pgtype.BinaryFormatCode
}

func (p *pgxCodec) PlanEncode(m *pgtype.Map, oid uint32, format int16, value any) pgtype.EncodePlan {
	if format == pgtype.BinaryFormatCode && p.c.Accepts(value) {
		return encodePlan{c: p.c}
	}
	if p.fallback != nil {
		return p.fallback.PlanEncode(m, oid, format, value)
	}
	return nil
}

func (p *pgxCodec) PlanScan(m *pgtype.Map, oid uint32, format int16, target any) pgtype.ScanPlan {
	if format == pgtype.BinaryFormatCode && p.canScan(target) {
		return scanPlan{c: p.c}
	}
	if p.fallback != nil {
		return p.fallback.PlanScan(m, oid, format, target)
	}
	return nil
}

// canScan reports whether target points at a type the codec itself handles.
func (p *pgxCodec) canScan(target any) bool {
	if _, ok := target.(*any); ok {
		return true
	}
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return false
	}
	return p.c.Accepts(rv.Elem().Interface())
}

func (p *pgxCodec) DecodeDatabaseSQLValue(m *pgtype.Map, oid uint32, format int16, src []byte) (driver.Value, error) {
	if src == nil {
		return nil, nil
	}
	if format != pgtype.BinaryFormatCode {
		if p.fallback == nil {
			return nil, fmt.Errorf("codec %d: unsupported format %d", p.c.OID(), format)
		}
		return p.fallback.DecodeDatabaseSQLValue(m, oid, format, src)
	}
	v, err := p.c.Decode(src)
	if err != nil {
		return nil, err
	}
	switch tv := v.(type) {
	case time.Time:
		return tv, nil
	case *apd.Decimal:
		return tv.Text('f'), nil
	case fmt.Stringer:
		return tv.String(), nil
	}
	return fmt.Sprint(v), nil
}

func (p *pgxCodec) DecodeValue(m *pgtype.Map, oid uint32, format int16, src []byte) (any, error) {
	if src == nil {
		return nil, nil
	}
	if format != pgtype.BinaryFormatCode {
		if p.fallback == nil {
			return nil, fmt.Errorf("codec %d: unsupported format %d", p.c.OID(), format)
		}
		return p.fallback.DecodeValue(m, oid, format, src)
	}
	return p.c.Decode(src)
}

type encodePlan struct {
	c Codec
}

func (e encodePlan) Encode(value any, buf []byte) ([]byte, error) {
	b, err := e.c.Encode(value)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}
	return append(buf, b...), nil
}

type scanPlan struct {
	c Codec
}

func (s scanPlan) Scan(src []byte, target any) error {
	if src == nil {
		return assign(target, nil)
	}
	v, err := s.c.Decode(src)
	if err != nil {
		return err
	}
	return assign(target, v)
}

// assign stores a decoded value into target, which must be a non-nil pointer.
func assign(target any, v any) error {
	switch t := target.(type) {
	case *any:
		*t = v
		return nil
	case *string:
		switch tv := v.(type) {
		case nil:
			*t = ""
			return nil
		case *apd.Decimal:
			*t = tv.Text('f')
			return nil
		}
	}

	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("scan target %T is not a non-nil pointer", target)
	}
	ev := rv.Elem()
	if v == nil {
		ev.Set(reflect.Zero(ev.Type()))
		return nil
	}
	vv := reflect.ValueOf(v)
	if vv.Type().AssignableTo(ev.Type()) {
		ev.Set(vv)
		return nil
	}
	if vv.Kind() == reflect.Pointer && !vv.IsNil() && vv.Elem().Type().AssignableTo(ev.Type()) {
		ev.Set(vv.Elem())
		return nil
	}
	return fmt.Errorf("cannot scan %T into %T", v, target)
}
