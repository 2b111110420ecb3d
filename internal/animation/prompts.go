package animation

var suggestedPrompts = []string{
	"Product smoothly rotating 360 degrees",
	"Product appears with a light reveal effect",
	"Pulsing attention-grabbing effect",
	"Product gently swaying as if on a store shelf",
	"Golden shimmer sweeping across the product",
	"Product smoothly zooming in and out",
}

// Suggestions returns the suggested animation prompts.
func Suggestions() []string {
	out := make([]string, len(suggestedPrompts))
	copy(out, suggestedPrompts)
	return out
}
