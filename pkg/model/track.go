package model

// Waypoint is an ordered checkpoint on the circuit.
// Waypoints are created when the track is loaded and never change afterwards.
type Waypoint struct {
	Index    int
	Position Vector3
}
