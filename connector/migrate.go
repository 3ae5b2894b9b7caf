package connector

// Migration is one declarative on-read migration rule: when an item
// lacks Field as an own property, all Set keys are copied onto it.
type Migration struct {
	// Field guards the rule.
	Field string

	// Set holds the defaults to copy in.
	Set map[string]interface{}
}

// ApplyMigrations runs the rules, in declared order, over each item
// in place.  Multiple rules may stack on one item.  Reports whether
// anything changed.
//
// Rules are additive: an existing own property is never overwritten,
// so applying the same rules twice leaves items unchanged after the
// first application.
func ApplyMigrations(rules []Migration, items []interface{}) bool {
	changed := false
	for _, x := range items {
		item, is := x.(map[string]interface{})
		if !is {
			continue
		}
		for _, rule := range rules {
			if _, have := item[rule.Field]; have {
				continue
			}
			for p, v := range rule.Set {
				if _, have := item[p]; !have {
					item[p] = v
					changed = true
				}
			}
		}
	}
	return changed
}
