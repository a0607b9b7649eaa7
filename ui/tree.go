package ui

import "strings"

// Tree hierarchy symbols using box drawing characters
const (
	TreeBranch     = "├── " // Branch connector (tee right + horizontal line + space)
	TreeLastBranch = "└── " // Last branch connector (bottom left corner + horizontal line + space)

	TreeContinue = "│   " // Vertical line + 3 spaces (parent has more siblings)
	TreeIndent   = "    " // 4 spaces (parent was last, no vertical line needed)
)

// TreePrefixBuilder helps build consistent tree prefixes based on hierarchy depth and position
type TreePrefixBuilder struct{}

// BuildPrefix generates a tree prefix based on depth, position, and parent positions
func (TreePrefixBuilder) BuildPrefix(depth int, isLast bool, parentIsLast []bool) string {
	if depth == 0 {
		return ""
	}

	var prefix strings.Builder

	// Build prefix based on parent positions
	for i := 0; i < depth-1; i++ {
		if i < len(parentIsLast) && parentIsLast[i] {
			prefix.WriteString(TreeIndent)
		} else {
			prefix.WriteString(TreeContinue)
		}
	}

	if isLast {
		prefix.WriteString(TreeLastBranch)
	} else {
		prefix.WriteString(TreeBranch)
	}
	return prefix.String()
}

// BuildTreePrefix is TreePrefixBuilder.BuildPrefix without a builder value
func BuildTreePrefix(depth int, isLast bool, parentIsLast []bool) string {
	return TreePrefixBuilder{}.BuildPrefix(depth, isLast, parentIsLast)
}

// TreeLines renders children under a parent line, one level deep. Each child
// is given the prefix that places it in the tree.
func TreeLines(children []string, parentIsLast bool) []string {
	lines := make([]string, 0, len(children))
	for i, child := range children {
		lines = append(lines, BuildTreePrefix(2, i == len(children)-1, []bool{parentIsLast})+child)
	}
	return lines
}
