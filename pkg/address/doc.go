// Package address implements the hierarchical, slash-separated addresses that
// name every pub/sub topic in rhizome.
//
// An address is an ordered list of non-empty segments rooted at "/":
//
//	/               the root, an ancestor of every address
//	/blo            one segment
//	/blo/bli        two segments; "/blo" is its parent
//
// Normalization strips a single trailing slash (except on the root) and rejects
// the empty string, relative paths and empty segments. Normalization is
// idempotent. Addresses are case-sensitive.
//
// Example usage:
//
//	addr, err := address.Parse("/blo/bli/")
//	if err != nil {
//		return err // wraps address.ErrInvalidAddress
//	}
//	addr.String()    // "/blo/bli"
//	addr.Segments()  // ["blo", "bli"]
//	address.Root.IsAncestorOf(addr) // true
package address
