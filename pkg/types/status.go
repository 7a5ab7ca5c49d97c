package types

type Status struct {
	StatusString string `json:"status"`
	Overload     bool   `json:"overload"`
	Unlocked     bool   `json:"unlocked"`
	Unlevel      bool   `json:"unlevel"`
	ExtRef       bool   `json:"ext_ref"`
}

// CombineStatus merges the statuses of several devices into one: fault flags are
// OR-ed, the external reference is only reported locked when every device is locked.
func CombineStatus(statuses ...Status) Status {
	if len(statuses) == 0 {
		return Status{}
	}
	if len(statuses) == 1 {
		return statuses[0]
	}
	ret := Status{ExtRef: true}
	for i, s := range statuses {
		if i > 0 {
			ret.StatusString += " | "
		}
		ret.StatusString += s.StatusString
		ret.Overload = ret.Overload || s.Overload
		ret.Unlocked = ret.Unlocked || s.Unlocked
		ret.Unlevel = ret.Unlevel || s.Unlevel
		ret.ExtRef = ret.ExtRef && s.ExtRef
	}
	return ret
}
