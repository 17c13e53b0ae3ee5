// Package detector turns a management-account credential into an immutable
// OrganizationSnapshot.
//
// Detection is a pure read against the provider's organization API: the flat
// parent/child unit listing is reconstructed into the unit hierarchy, with
// remote-assigned ordering preserved so repeated detections diff cleanly.
// It is safe to call repeatedly and concurrently; a short-TTL snapshot cache
// spares the provider's rate limits during wizard-driven flows.
package detector
