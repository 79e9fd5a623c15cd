package reasoner

import "strings"

// MethodKind is the closed set of commands the engine dispatches.
type MethodKind int

const (
	MethodNone MethodKind = iota
	MethodClick
	MethodFill
	MethodType
	MethodPress
	MethodScrollIntoView
	// MethodGeneric is any other locator method, dispatched by name.
	MethodGeneric
	// MethodUnsupported marks elements that cannot be acted on, such as
	// iframe contents.
	MethodUnsupported
)

// UnsupportedMethodName is how MethodUnsupported is written.
const UnsupportedMethodName = "not-supported"

var methodNames = map[MethodKind]string{
	MethodClick:          "click",
	MethodFill:           "fill",
	MethodType:           "type",
	MethodPress:          "press",
	MethodScrollIntoView: "scrollIntoView",
	MethodUnsupported:    UnsupportedMethodName,
}

// Method is a decided command.
type Method struct {
	Kind MethodKind
	// Name is set for MethodGeneric.
	Name string
}

// Generic returns a method dispatched by name.
func Generic(name string) Method {
	return Method{Kind: MethodGeneric, Name: name}
}

// ParseMethod maps a method name to its kind. Unknown names are generic.
func ParseMethod(name string) Method {
	name = strings.TrimSpace(name)
	if name == "" {
		return Method{}
	}
	for kind, n := range methodNames {
		if n == name {
			return Method{Kind: kind}
		}
	}
	return Generic(name)
}

// String returns the method name.
func (m Method) String() string {
	if m.Kind == MethodGeneric {
		return m.Name
	}
	return methodNames[m.Kind]
}

// IsZero reports whether no method was decided.
func (m Method) IsZero() bool { return m.Kind == MethodNone }

func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(text []byte) error {
	*m = ParseMethod(string(text))
	return nil
}
