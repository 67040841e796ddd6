package store

// Entry is one item stored in a collection.
type Entry struct {
	ID        string
	Embedding []float32
	Document  string
	Metadata  map[string]string
}

// Match is an entry returned by a nearest-neighbour query.
type Match struct {
	ID       string
	Document string
	Metadata map[string]string
	Distance float64
}
