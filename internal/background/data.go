package background

// Input keys of the tracking work.
const (
	KeyTitle       = "title"
	KeyContextText = "context_text"
	KeySmallIcon   = "small_icon"
)

// Data is the immutable input of a work.
type Data map[string]string

// String returns the value of key, or def when it is absent or empty.
func (d Data) String(key, def string) string {
	if v, ok := d[key]; ok && v != "" {
		return v
	}
	return def
}
