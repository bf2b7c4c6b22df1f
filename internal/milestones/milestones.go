package milestones

// Definition is a fixed (distance, target time) pair a member can unlock.
// Target times derive from a 4:00/km pace threshold.
type Definition struct {
	Key            string
	Name           string
	DistanceMeters float64
	TargetSeconds  int
}

// Definitions is the static milestone table, ordered by increasing distance
var Definitions = []Definition{
	{Key: "1k", Name: "1 km", DistanceMeters: 1000, TargetSeconds: 240},
	{Key: "2k", Name: "2 km", DistanceMeters: 2000, TargetSeconds: 480},
	{Key: "5k", Name: "5 km", DistanceMeters: 5000, TargetSeconds: 1200},
	{Key: "7.5k", Name: "7.5 km", DistanceMeters: 7500, TargetSeconds: 1800},
	{Key: "10k", Name: "10 km", DistanceMeters: 10000, TargetSeconds: 2400},
}
