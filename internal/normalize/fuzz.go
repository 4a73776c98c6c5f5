// Fuzz testing for package normalize.

//go:build gofuzz

package normalize

func Fuzz(data []byte) int {
	s := string(data)
	User(s)
	Addr(s)

	return 0
}
