// Package transform maps legacy upstream records onto the stable outward
// schema.
//
// Transformations are pure: they read only their input, never the clock or
// the network, so the same legacy record always yields the same result.
// Unmapped legacy fields are dropped because the legacy structs only decode
// the fields that have a mapping.
//
// Example:
//
//	var raw transform.LegacyCustomer
//	if err := json.Unmarshal(body, &raw); err != nil {
//	    return err
//	}
//	customer, err := transform.CustomerFromLegacy(raw)
//	if errors.Is(err, transform.ErrMissingField) {
//	    // upstream sent an incomplete record
//	}
package transform

// Func converts one legacy record of type L into a modern record of type M.
type Func[L, M any] func(L) (M, error)
