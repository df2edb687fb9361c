// Package participant implements RTPSParticipant, the façade that owns a
// participant's endpoints, listen resources, entity-id allocation, and
// built-in discovery (PDP/EDP). Lock ordering, enforced throughout:
// Participant > Endpoint > Proxy.
package participant
