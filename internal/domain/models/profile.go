package models

// UserProfile is the learner profile exposed to the model through the
// get_user_profile / update_user_profile tools. Persistence lives with an
// external storage collaborator; the engine only reads and merges.
//
// The shape is intentionally loose: the model is free to grow nested
// sections, and updates deep-merge with set-union on list fields.
type UserProfile map[string]any

// Clone returns a deep copy of the profile.
func (p UserProfile) Clone() UserProfile {
	return UserProfile(deepCopyMap(map[string]any(p)))
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case map[string]any:
			out[k] = deepCopyMap(tv)
		case []any:
			cp := make([]any, len(tv))
			copy(cp, tv)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
