// Package uiid resolves eWeLink device payloads to typed device-family
// variants.
//
// eWeLink identifies the protocol family of a device with an integer
// UIID. Every supported family ships two embedded resources:
//
//	resources/uiid<N>.json          JSON Schema of the family's params object
//	resources/uiid<N>_mapping.json  parameter → property descriptor mapping
//
// Resolve tries the schemas of all known UIIDs in a fixed order and decodes
// the payload into the variant of the first schema that accepts it. Schemas
// are written to be mutually exclusive, so the order never decides the
// result. Compiled schemas are cached per UIID.
//
// # Usage
//
//	reg := uiid.NewRegistry()
//	variant, err := reg.Resolve(params)
//	if errors.Is(err, uiid.ErrUnsupportedType) {
//	    // log and drop
//	}
//	for _, st := range variant.States().Channel { ... }
package uiid
