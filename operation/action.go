package operation

import "fmt"

// Action is the verb of an operation. It is a closed enum: dispatch
// code switches over it exhaustively, so adding a verb is a
// compile-visible change.
type Action int

const (
	ActionGet Action = iota
	ActionPost
	ActionPut
	ActionPatch
	ActionDelete
	ActionOptions
)

// String returns the HTTP-style verb name.
func (a Action) String() string {
	switch a {
	case ActionGet:
		return "GET"
	case ActionPost:
		return "POST"
	case ActionPut:
		return "PUT"
	case ActionPatch:
		return "PATCH"
	case ActionDelete:
		return "DELETE"
	case ActionOptions:
		return "OPTIONS"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// ParseAction maps an HTTP method name to an Action.
func ParseAction(method string) (Action, error) {
	switch method {
	case "GET":
		return ActionGet, nil
	case "POST":
		return ActionPost, nil
	case "PUT":
		return ActionPut, nil
	case "PATCH":
		return ActionPatch, nil
	case "DELETE":
		return ActionDelete, nil
	case "OPTIONS":
		return ActionOptions, nil
	}
	return 0, fmt.Errorf("unsupported method %q", method)
}
