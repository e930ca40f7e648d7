package style

import "strings"

// smacssOrder lists properties grouped as box, border, background, text and other.
var smacssOrder = []string{
	// box
	"display", "position", "top", "right", "bottom", "left", "z-index",
	"float", "clear", "box-sizing",
	"flex", "flex-basis", "flex-direction", "flex-flow", "flex-grow", "flex-shrink", "flex-wrap",
	"grid", "grid-area", "grid-template", "grid-template-areas", "grid-template-rows",
	"grid-template-columns", "grid-row", "grid-row-start", "grid-row-end", "grid-column",
	"grid-column-start", "grid-column-end", "grid-auto-rows", "grid-auto-columns", "grid-auto-flow",
	"gap", "row-gap", "column-gap",
	"align-content", "align-items", "align-self", "justify-content", "justify-items", "justify-self",
	"order",
	"width", "min-width", "max-width", "height", "min-height", "max-height",
	"margin", "margin-top", "margin-right", "margin-bottom", "margin-left",
	"padding", "padding-top", "padding-right", "padding-bottom", "padding-left",
	"overflow", "overflow-x", "overflow-y",
	"transform", "transform-origin", "transform-style",

	// border
	"border", "border-width", "border-style", "border-color",
	"border-top", "border-top-width", "border-top-style", "border-top-color",
	"border-right", "border-right-width", "border-right-style", "border-right-color",
	"border-bottom", "border-bottom-width", "border-bottom-style", "border-bottom-color",
	"border-left", "border-left-width", "border-left-style", "border-left-color",
	"border-radius", "border-top-left-radius", "border-top-right-radius",
	"border-bottom-right-radius", "border-bottom-left-radius",
	"border-image", "border-collapse", "border-spacing",
	"outline", "outline-width", "outline-style", "outline-color", "outline-offset",
	"box-shadow",

	// background
	"background", "background-color", "background-image", "background-repeat",
	"background-position", "background-size", "background-attachment",
	"background-clip", "background-origin",

	// text
	"color", "font", "font-family", "font-size", "font-style", "font-weight", "font-variant",
	"line-height", "letter-spacing", "word-spacing",
	"text-align", "text-decoration", "text-indent", "text-transform", "text-overflow", "text-shadow",
	"white-space", "word-break", "word-wrap", "overflow-wrap", "vertical-align",
	"list-style", "list-style-type", "list-style-position", "list-style-image",

	// other
	"content", "quotes", "cursor", "opacity", "visibility", "pointer-events", "user-select",
	"transition", "transition-property", "transition-duration", "transition-timing-function",
	"transition-delay",
	"animation", "animation-name", "animation-duration", "animation-timing-function",
	"animation-delay", "animation-iteration-count", "animation-direction",
	"animation-fill-mode", "animation-play-state",
}

var smacssRank = func() map[string]int {
	m := make(map[string]int, len(smacssOrder))
	for i, p := range smacssOrder {
		m[p] = i
	}
	return m
}()

// propertyRank orders custom properties first and unknown properties last.
func propertyRank(prop string) int {
	prop = strings.ToLower(prop)
	if strings.HasPrefix(prop, "--") {
		return -1
	}
	if rank, ok := smacssRank[unprefixed(prop)]; ok {
		return rank
	}
	return len(smacssOrder)
}

func unprefixed(prop string) string {
	for _, vendor := range []string{"-webkit-", "-moz-", "-ms-", "-o-"} {
		if strings.HasPrefix(prop, vendor) {
			return prop[len(vendor):]
		}
	}
	return prop
}
