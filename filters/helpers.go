package filters

import "github.com/wudi/pdfdoc/object"

// ExtractFilters reads Filter and DecodeParms entries from a stream
// dictionary. Single names and arrays are both accepted; DecodeParms
// aligns positionally with the filter list.
func ExtractFilters(dict object.Dictionary) ([]string, []object.Dictionary) {
	var names []string
	var params []object.Dictionary

	filterObj, ok := dict.Get(object.NameLiteral("Filter"))
	if !ok {
		return names, params
	}

	switch f := filterObj.(type) {
	case object.Name:
		names = append(names, f.Value())
	case *object.ArrayObj:
		for _, item := range f.Items {
			if n, ok := item.(object.Name); ok {
				names = append(names, n.Value())
			}
		}
	}

	if len(names) == 0 {
		return names, params
	}
	pObj, ok := dict.Get(object.NameLiteral("DecodeParms"))
	if !ok {
		pObj, ok = dict.Get(object.NameLiteral("DP"))
	}
	if ok {
		switch p := pObj.(type) {
		case object.Dictionary:
			params = append(params, p)
		case *object.ArrayObj:
			for _, item := range p.Items {
				if d, ok := item.(object.Dictionary); ok {
					params = append(params, d)
				} else {
					params = append(params, nil)
				}
			}
		}
	}
	return names, params
}
