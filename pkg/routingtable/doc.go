// Package routingtable provides interfaces for address-to-connection routing.
//
// This package defines the core abstractions for the rhizome routing table:
//   - Connection: a sink able to Send(address, args), implemented by every transport
//   - Subscription: a connection registered at an address
//   - RoutingTable: the registry that publishes along address paths
//   - TargetResolver: a hook that swaps the delivery target per subscriber (blob pairing)
//
// Publishing is prefix-subscribe, not wildcard matching. A connection subscribed at
// "/blo" receives everything published at "/blo", "/blo/bli", "/blo/bli/x" and so on,
// because publishing walks from the root to the published address and delivers to
// every subscriber found on the way. A connection subscribed at "/blo/bli" does not
// receive a message published at "/blo". Subscribers always see the full published
// address.
//
// Example usage:
//
//	rec := routingtable.NewRecorder("c1", routingtable.LocalConnection)
//	err := table.Subscribe(ctx, "/bla", rec)
//	if err != nil {
//		return err
//	}
//
//	result, err := table.Publish(ctx, "/bla/sub", []any{int32(1), int32(2)})
//	if err != nil {
//		return err // only for an invalid address
//	}
//	fmt.Println(result.Delivered, rec.Received())
//
// Delivery is best effort: a failing or slow subscriber is counted in
// PublishResult.Failed and never prevents delivery to the others.
package routingtable
