package value

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/segmentio/fasthash/fnv1a"
)

// ErrValue is wrapped by every failure of the value layer: wrong kind, failed
// conversion, unmarshallable value.
var ErrValue = errors.New("value error")

func init() {
	gob.Register(&valueUnit{})
	gob.Register(&valueBool{})
	gob.Register(&valueInt{})
	gob.Register(&valueReal{})
	gob.Register(&valueQuote{})
	gob.Register(&valueString{})
	gob.Register(&valueList{})
	gob.Register(&valueSet{})
	gob.Register(&valueMap{})
	gob.Register(&valueObject{})
}

// Kind tags the variant held by a Value.
type Kind int

const (
	KindAny Kind = iota
	KindNil
	KindVoid
	KindBool
	KindInt
	KindReal
	KindQuote
	KindString
	KindTuple
	KindSeq
	KindSet
	KindMap
	KindObject
	KindLive
)

var kindNames = [...]string{
	KindAny:    "?",
	KindNil:    "nil",
	KindVoid:   "()",
	KindBool:   "bool",
	KindInt:    "int",
	KindReal:   "real",
	KindQuote:  "quote",
	KindString: "seq of char",
	KindTuple:  "tuple",
	KindSeq:    "seq",
	KindSet:    "set",
	KindMap:    "map",
	KindObject: "object",
	KindLive:   "updatable",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is an immutable runtime value. The zero Value is nil.
type Value struct {
	data impl
}

var _ fmt.Stringer = Value{}
var _ gob.GobDecoder = &Value{}
var _ gob.GobEncoder = &Value{}

type impl interface {
	Kind() Kind
	Hash() uint32
	Equal(other Value) bool
	String() string
}

var (
	nilValue  = Value{&valueUnit{}}
	voidValue = Value{&valueUnit{Void: true}}
	trueValue = Value{&valueBool{V: true}}
	falseVal  = Value{&valueBool{V: false}}
)

func (v Value) Kind() Kind {
	if v.data == nil {
		return KindNil
	}
	return v.data.Kind()
}

func (v Value) Hash() uint32 {
	if v.data == nil {
		return 0
	}
	return v.data.Hash()
}

func (v Value) Equal(other Value) bool {
	if v.Kind() == KindNil || other.Kind() == KindNil {
		return v.Kind() == other.Kind()
	}
	return v.data.Equal(other)
}

func (v Value) String() string {
	if v.data == nil {
		return "nil"
	}
	return v.data.String()
}

func (v *Value) GobDecode(input []byte) error {
	buf := bytes.NewBuffer(input)
	decoder := gob.NewDecoder(buf)
	return decoder.Decode(&v.data)
}

func (v *Value) GobEncode() ([]byte, error) {
	if v.data == nil {
		v.data = nilValue.data
	}
	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)
	err := encoder.Encode(&v.data)
	return buf.Bytes(), err
}

func (v Value) require(kind Kind) {
	if v.Kind() != kind {
		panic(fmt.Errorf("%w: %v is a %s, not a %s", ErrValue, v, v.Kind(), kind))
	}
}

func (v Value) IsNil() bool  { return v.Kind() == KindNil }
func (v Value) IsVoid() bool { return v.Kind() == KindVoid }

func (v Value) AsBool() bool {
	v.require(KindBool)
	return v.data.(*valueBool).V
}

func (v Value) AsInt() int64 {
	v.require(KindInt)
	return v.data.(*valueInt).V
}

// AsReal widens integers, as numeric types do in the language.
func (v Value) AsReal() float64 {
	if v.Kind() == KindInt {
		return float64(v.AsInt())
	}
	v.require(KindReal)
	return v.data.(*valueReal).V
}

func (v Value) AsQuote() string {
	v.require(KindQuote)
	return v.data.(*valueQuote).V
}

func (v Value) AsString() string {
	v.require(KindString)
	return v.data.(*valueString).V
}

func (v Value) AsTuple() *immutable.List[Value] {
	v.require(KindTuple)
	return v.data.(*valueList).v
}

func (v Value) AsSeq() *immutable.List[Value] {
	v.require(KindSeq)
	return v.data.(*valueList).v
}

func (v Value) AsSet() *immutable.Map[Value, bool] {
	v.require(KindSet)
	return v.data.(*valueSet).v
}

func (v Value) AsMap() *immutable.Map[Value, Value] {
	v.require(KindMap)
	return v.data.(*valueMap).v
}

// AsObject returns the identity and class name of an object reference.
func (v Value) AsObject() (uint64, string) {
	v.require(KindObject)
	obj := v.data.(*valueObject)
	return obj.ID, obj.Class
}

func (v Value) AsCell() *Cell {
	v.require(KindLive)
	return v.data.(*valueLive).cell
}

// Apply indexes a tuple or sequence (1-based) or looks up a map key.
func (v Value) Apply(arg Value) (Value, error) {
	switch v.Kind() {
	case KindSeq, KindTuple:
		list := v.data.(*valueList).v
		idx := arg.AsInt()
		if idx < 1 || idx > int64(list.Len()) {
			return Value{}, fmt.Errorf("%w: index %d out of range for %v", ErrValue, idx, v)
		}
		return list.Get(int(idx - 1)), nil
	case KindMap:
		result, ok := v.AsMap().Get(arg)
		if !ok {
			return Value{}, fmt.Errorf("%w: key %v not in domain of %v", ErrValue, arg, v)
		}
		return result, nil
	case KindLive:
		return v.AsCell().Get().Apply(arg)
	default:
		return Value{}, fmt.Errorf("%w: cannot apply %v", ErrValue, v)
	}
}

type ValueHasher struct{}

var _ immutable.Hasher[Value] = ValueHasher{}

func (ValueHasher) Hash(key Value) uint32 {
	return key.Hash()
}

func (ValueHasher) Equal(a, b Value) bool {
	return a.Equal(b)
}

func hashInt64(h uint32, i int64) uint32 {
	h = fnv1a.AddUint32(h, uint32(i))
	return fnv1a.AddUint32(h, uint32(uint64(i)>>32))
}

// nil and void share a representation; gob refuses structs without exported fields.
type valueUnit struct {
	Void bool
}

func Nil() Value  { return nilValue }
func Void() Value { return voidValue }

func (v *valueUnit) Kind() Kind {
	if v.Void {
		return KindVoid
	}
	return KindNil
}

func (v *valueUnit) Hash() uint32 {
	if v.Void {
		return fnv1a.HashUint32(2)
	}
	return 0
}

func (v *valueUnit) Equal(other Value) bool {
	return other.Kind() == v.Kind()
}

func (v *valueUnit) String() string {
	if v.Void {
		return "()"
	}
	return "nil"
}

type valueBool struct {
	V bool // public or gob doesn't work!
}

func Bool(b bool) Value {
	if b {
		return trueValue
	}
	return falseVal
}

func (v *valueBool) Kind() Kind { return KindBool }

func (v *valueBool) Hash() uint32 {
	if v.V {
		return fnv1a.HashUint32(1)
	}
	return fnv1a.HashUint32(0)
}

func (v *valueBool) Equal(other Value) bool {
	return other.Kind() == KindBool && other.AsBool() == v.V
}

func (v *valueBool) String() string {
	if v.V {
		return "true"
	}
	return "false"
}

type valueInt struct {
	V int64
}

func Int(i int64) Value {
	return Value{&valueInt{V: i}}
}

func (v *valueInt) Kind() Kind { return KindInt }

func (v *valueInt) Hash() uint32 {
	return hashInt64(fnv1a.Init32, v.V)
}

// Equal treats 2 and 2.0 as the same number.
func (v *valueInt) Equal(other Value) bool {
	switch other.Kind() {
	case KindInt:
		return other.AsInt() == v.V
	case KindReal:
		return other.AsReal() == float64(v.V)
	default:
		return false
	}
}

func (v *valueInt) String() string {
	return strconv.FormatInt(v.V, 10)
}

type valueReal struct {
	V float64
}

func Real(f float64) Value {
	return Value{&valueReal{V: f}}
}

func (v *valueReal) Kind() Kind { return KindReal }

func (v *valueReal) Hash() uint32 {
	if v.V == math.Trunc(v.V) && math.Abs(v.V) < math.MaxInt64 {
		return hashInt64(fnv1a.Init32, int64(v.V))
	}
	return hashInt64(fnv1a.Init32, int64(math.Float64bits(v.V)))
}

func (v *valueReal) Equal(other Value) bool {
	switch other.Kind() {
	case KindInt, KindReal:
		return other.AsReal() == v.V
	default:
		return false
	}
}

func (v *valueReal) String() string {
	return strconv.FormatFloat(v.V, 'g', -1, 64)
}

type valueQuote struct {
	V string
}

func Quote(name string) Value {
	return Value{&valueQuote{V: name}}
}

func (v *valueQuote) Kind() Kind { return KindQuote }

func (v *valueQuote) Hash() uint32 {
	return fnv1a.AddString32(fnv1a.HashUint32(uint32(KindQuote)), v.V)
}

func (v *valueQuote) Equal(other Value) bool {
	return other.Kind() == KindQuote && other.AsQuote() == v.V
}

func (v *valueQuote) String() string {
	return "<" + v.V + ">"
}

type valueString struct {
	V string
}

func String(s string) Value {
	return Value{&valueString{V: s}}
}

func (v *valueString) Kind() Kind { return KindString }

func (v *valueString) Hash() uint32 {
	return fnv1a.HashString32(v.V)
}

func (v *valueString) Equal(other Value) bool {
	return other.Kind() == KindString && other.AsString() == v.V
}

func (v *valueString) String() string {
	return strconv.Quote(v.V)
}

// valueList backs both tuples and sequences; Tuple distinguishes them.
type valueList struct {
	v     *immutable.List[Value]
	tuple bool
}

func Tuple(members ...Value) Value {
	return Value{&valueList{v: immutable.NewList[Value](members...), tuple: true}}
}

func Seq(members ...Value) Value {
	return Value{&valueList{v: immutable.NewList[Value](members...)}}
}

func SeqFromList(list *immutable.List[Value]) Value {
	return Value{&valueList{v: list}}
}

func (v *valueList) Kind() Kind {
	if v.tuple {
		return KindTuple
	}
	return KindSeq
}

func (v *valueList) Hash() uint32 {
	h := fnv1a.HashUint32(uint32(v.Kind()))
	it := v.v.Iterator()
	for !it.Done() {
		_, member := it.Next()
		h = fnv1a.AddUint32(h, member.Hash())
	}
	return h
}

func (v *valueList) Equal(other Value) bool {
	if other.Kind() != v.Kind() {
		return false
	}
	otherList := other.data.(*valueList).v
	if v.v.Len() != otherList.Len() {
		return false
	}
	it1, it2 := v.v.Iterator(), otherList.Iterator()
	for !it1.Done() && !it2.Done() {
		_, elem1 := it1.Next()
		_, elem2 := it2.Next()
		if !elem1.Equal(elem2) {
			return false
		}
	}
	return true
}

func (v *valueList) String() string {
	open, close := "[", "]"
	if v.tuple {
		open, close = "mk_(", ")"
	}
	builder := strings.Builder{}
	builder.WriteString(open)
	it := v.v.Iterator()
	for !it.Done() {
		idx, elem := it.Next()
		if idx > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString(elem.String())
	}
	builder.WriteString(close)
	return builder.String()
}

func (v *valueList) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)
	if err := encoder.Encode(v.tuple); err != nil {
		return nil, err
	}
	it := v.v.Iterator()
	for !it.Done() {
		_, elem := it.Next()
		elemV := elem // make sure encoded thing is addressable
		if err := encoder.Encode(&elemV); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (v *valueList) GobDecode(input []byte) error {
	decoder := gob.NewDecoder(bytes.NewBuffer(input))
	if err := decoder.Decode(&v.tuple); err != nil {
		return err
	}
	builder := immutable.NewListBuilder[Value]()
	for {
		var elem Value
		err := decoder.Decode(&elem)
		if err != nil {
			if errors.Is(err, io.EOF) {
				v.v = builder.List()
				return nil
			}
			return err
		}
		builder.Append(elem)
	}
}

type valueSet struct {
	v *immutable.Map[Value, bool]
}

func Set(members ...Value) Value {
	builder := immutable.NewMapBuilder[Value, bool](ValueHasher{})
	for _, member := range members {
		builder.Set(member, true)
	}
	return Value{&valueSet{v: builder.Map()}}
}

func SetFromMap(m *immutable.Map[Value, bool]) Value {
	return Value{&valueSet{v: m}}
}

func (v *valueSet) Kind() Kind { return KindSet }

func (v *valueSet) Hash() uint32 {
	var hash uint32
	it := v.v.Iterator()
	for !it.Done() {
		key, _, _ := it.Next()
		// XOR, so that member order does not matter
		hash ^= key.Hash()
	}
	return fnv1a.HashUint32(hash)
}

func (v *valueSet) Equal(other Value) bool {
	if other.Kind() != KindSet {
		return false
	}
	oC := other.AsSet()
	if v.v.Len() != oC.Len() {
		return false
	}
	it := v.v.Iterator()
	for !it.Done() {
		k, _, _ := it.Next()
		if _, ok := oC.Get(k); !ok {
			return false
		}
	}
	return true
}

func (v *valueSet) String() string {
	builder := strings.Builder{}
	builder.WriteString("{")
	it := v.v.Iterator()
	first := true
	for !it.Done() {
		if !first {
			builder.WriteString(", ")
		}
		first = false
		elem, _, _ := it.Next()
		builder.WriteString(elem.String())
	}
	builder.WriteString("}")
	return builder.String()
}

func (v *valueSet) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)
	it := v.v.Iterator()
	for !it.Done() {
		elem, _, _ := it.Next()
		elemV := elem
		if err := encoder.Encode(&elemV); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (v *valueSet) GobDecode(input []byte) error {
	decoder := gob.NewDecoder(bytes.NewBuffer(input))
	builder := immutable.NewMapBuilder[Value, bool](ValueHasher{})
	for {
		var elem Value
		err := decoder.Decode(&elem)
		if err != nil {
			if errors.Is(err, io.EOF) {
				v.v = builder.Map()
				return nil
			}
			return err
		}
		builder.Set(elem, true)
	}
}

// Maplet is one key/value pair of a map value.
type Maplet struct {
	Key, Value Value
}

type valueMap struct {
	v *immutable.Map[Value, Value]
}

func Map(maplets ...Maplet) Value {
	builder := immutable.NewMapBuilder[Value, Value](ValueHasher{})
	for _, m := range maplets {
		builder.Set(m.Key, m.Value)
	}
	return Value{&valueMap{v: builder.Map()}}
}

func (v *valueMap) Kind() Kind { return KindMap }

func (v *valueMap) Hash() uint32 {
	var hash uint32
	it := v.v.Iterator()
	for !it.Done() {
		key, val, _ := it.Next()
		hash ^= fnv1a.AddUint32(fnv1a.HashUint32(key.Hash()), val.Hash())
	}
	return fnv1a.HashUint32(hash)
}

func (v *valueMap) Equal(other Value) bool {
	if other.Kind() != KindMap {
		return false
	}
	oM := other.AsMap()
	if v.v.Len() != oM.Len() {
		return false
	}
	it := v.v.Iterator()
	for !it.Done() {
		key, val, _ := it.Next()
		otherVal, ok := oM.Get(key)
		if !ok || !val.Equal(otherVal) {
			return false
		}
	}
	return true
}

func (v *valueMap) String() string {
	if v.v.Len() == 0 {
		return "{|->}"
	}
	builder := strings.Builder{}
	builder.WriteString("{")
	first := true
	it := v.v.Iterator()
	for !it.Done() {
		if !first {
			builder.WriteString(", ")
		}
		first = false
		key, val, _ := it.Next()
		builder.WriteString(key.String())
		builder.WriteString(" |-> ")
		builder.WriteString(val.String())
	}
	builder.WriteString("}")
	return builder.String()
}

func (v *valueMap) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)
	it := v.v.Iterator()
	for !it.Done() {
		key, val, _ := it.Next()
		m := Maplet{Key: key, Value: val}
		if err := encoder.Encode(&m); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (v *valueMap) GobDecode(input []byte) error {
	decoder := gob.NewDecoder(bytes.NewBuffer(input))
	builder := immutable.NewMapBuilder[Value, Value](ValueHasher{})
	for {
		var m Maplet
		err := decoder.Decode(&m)
		if err != nil {
			if errors.Is(err, io.EOF) {
				v.v = builder.Map()
				return nil
			}
			return err
		}
		builder.Set(m.Key, m.Value)
	}
}

// valueObject is a reference to an object by identity. References are
// constant: the object they name may change, the reference does not.
type valueObject struct {
	ID    uint64
	Class string
}

func ObjectRef(id uint64, class string) Value {
	return Value{&valueObject{ID: id, Class: class}}
}

func (v *valueObject) Kind() Kind { return KindObject }

func (v *valueObject) Hash() uint32 {
	return hashInt64(fnv1a.HashUint32(uint32(KindObject)), int64(v.ID))
}

func (v *valueObject) Equal(other Value) bool {
	if other.Kind() != KindObject {
		return false
	}
	id, _ := other.AsObject()
	return id == v.ID
}

func (v *valueObject) String() string {
	return fmt.Sprintf("%s{#%d}", v.Class, v.ID)
}
