package channel

import (
	"fmt"

	"github.com/xpert-ai/agentgraph/runtime/model"
)

// RemoveMessage is the special "remove-by-id" marker accepted by
// MessagesReducer (spec §3, Channel: messages).
type RemoveMessage struct{ ID string }

// LastWriterWins is the default reducer: the update replaces prev entirely,
// except when both are maps, in which case it merges field-by-field (spec
// §4.A: "last-writer-wins at field level").
func LastWriterWins(prev, update any) (any, error) {
	prevMap, prevOK := prev.(map[string]any)
	updateMap, updateOK := update.(map[string]any)
	if prevOK && updateOK {
		merged := make(map[string]any, len(prevMap)+len(updateMap))
		for k, v := range prevMap {
			merged[k] = v
		}
		for k, v := range updateMap {
			merged[k] = v
		}
		return merged, nil
	}
	return update, nil
}

// MessagesReducer appends to a []model.Message list, de-duplicating by
// Message.ID (a later message with the same ID replaces the earlier one in
// place, preserving its position) and honoring RemoveMessage{id} markers
// that delete the matching entry. Order of first insertion is preserved.
func MessagesReducer(prev, update any) (any, error) {
	list, ok := prev.([]model.Message)
	if !ok && prev != nil {
		return nil, fmt.Errorf("messages: previous value is %T, not []model.Message", prev)
	}

	var toApply []any
	switch u := update.(type) {
	case model.Message:
		toApply = []any{u}
	case []model.Message:
		for _, m := range u {
			toApply = append(toApply, m)
		}
	case RemoveMessage:
		toApply = []any{u}
	case []any:
		toApply = u
	default:
		return nil, fmt.Errorf("messages: unsupported update type %T", update)
	}

	index := make(map[string]int, len(list))
	for i, m := range list {
		if m.ID != "" {
			index[m.ID] = i
		}
	}

	for _, item := range toApply {
		switch v := item.(type) {
		case model.Message:
			if v.ID != "" {
				if i, exists := index[v.ID]; exists {
					list[i] = v
					continue
				}
			}
			list = append(list, v)
			if v.ID != "" {
				index[v.ID] = len(list) - 1
			}
		case RemoveMessage:
			if i, exists := index[v.ID]; exists {
				list = append(list[:i], list[i+1:]...)
				delete(index, v.ID)
				for id, idx := range index {
					if idx > i {
						index[id] = idx - 1
					}
				}
			}
		default:
			return nil, fmt.Errorf("messages: unsupported update element type %T", item)
		}
	}
	return list, nil
}

// Append builds a reducer that appends update (a single element or a slice)
// to a []T channel without de-duplication. Used for workflow-declared list
// channels that don't carry message identity semantics.
func Append[T any]() Reducer {
	return func(prev, update any) (any, error) {
		list, ok := prev.([]T)
		if !ok && prev != nil {
			return nil, fmt.Errorf("append: previous value is %T, not %T", prev, list)
		}
		switch u := update.(type) {
		case T:
			return append(list, u), nil
		case []T:
			return append(list, u...), nil
		default:
			return nil, fmt.Errorf("append: unsupported update type %T", update)
		}
	}
}
