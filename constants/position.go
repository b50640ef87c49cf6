package constants

// Position selects where a watermark is placed on a page.
type Position string

const (
	PositionCenter      Position = "center"
	PositionTopLeft     Position = "top-left"
	PositionTopRight    Position = "top-right"
	PositionBottomLeft  Position = "bottom-left"
	PositionBottomRight Position = "bottom-right"
	PositionDiagonal    Position = "diagonal"
)

var allPositions = []Position{
	PositionCenter,
	PositionTopLeft,
	PositionTopRight,
	PositionBottomLeft,
	PositionBottomRight,
	PositionDiagonal,
}

func PositionsAsStringSlice() []string {
	result := make([]string, len(allPositions))
	for i, p := range allPositions {
		result[i] = string(p)
	}
	return result
}
