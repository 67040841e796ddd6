package chunker

// Identifier derives the chunk identifier of a unit. Units with the same
// file name, class and name share an identifier.
func Identifier(fileName, class, name string) string {
	if class == "" {
		return fileName + "_" + name
	}
	return fileName + "_" + class + "_" + name
}
