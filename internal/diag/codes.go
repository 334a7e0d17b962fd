package diag

import (
	"fmt"
	"strings"
)

type Code uint16

const (
	// Неизвестная ошибка - на первое время
	UnknownCode Code = 0

	// Статический порядок слоёв
	OrdInfo            Code = 1000
	OrdLayerCycle      Code = 1001
	OrdDuplicateLayer  Code = 1002
	OrdUnknownClass    Code = 1003
	OrdUnorderedLayers Code = 1004
	OrdSelfConstraint  Code = 1005

	// Планировщик
	SchInfo                Code = 2000
	SchPlacementTooLate    Code = 2001
	SchAdviceDepthExceeded Code = 2002
	SchTargetMissing       Code = 2003

	// Выполнение трансформаций
	XfmInfo           Code = 3000
	XfmFailed         Code = 3001
	XfmPanicked       Code = 3002
	XfmIgnored        Code = 3003
	XfmScopeViolation Code = 3004
	XfmUnknownClass   Code = 3005

	// Сбор источников
	DscInfo               Code = 4000
	DscSourceFailed       Code = 4001
	DscTargetNotFound     Code = 4002
	DscIneligible         Code = 4003
	DscRequiredIneligible Code = 4004
	DscUnknownClass       Code = 4005

	// Стадии
	StgInfo               Code = 5000
	StgFailed             Code = 5001
	StgTransformerMissing Code = 5002
	StgTransformerFailed  Code = 5003

	ObsInfo    Code = 6000
	ObsTimings Code = 6001
)

var (
	codeDescription = map[Code]string{
		UnknownCode:            "Unknown error",
		OrdInfo:                "Layer ordering information",
		OrdLayerCycle:          "Layer ordering constraints form a cycle",
		OrdDuplicateLayer:      "Duplicate layer declaration",
		OrdUnknownClass:        "Ordering constraint references an unknown class",
		OrdUnorderedLayers:     "Layers execute against their explicit order",
		OrdSelfConstraint:      "Class is ordered relative to itself",
		SchInfo:                "Scheduler information",
		SchPlacementTooLate:    "Contribution targets a step that has already executed",
		SchAdviceDepthExceeded: "Too many nested contributions at the same depth",
		SchTargetMissing:       "Target declaration no longer exists",
		XfmInfo:                "Transformation information",
		XfmFailed:              "Transformation failed",
		XfmPanicked:            "Transformation panicked",
		XfmIgnored:             "Transformation ignored",
		XfmScopeViolation:      "Transformation edited outside its declaring type",
		XfmUnknownClass:        "Contribution references an unknown class",
		DscInfo:                "Source discovery information",
		DscSourceFailed:        "Transformation source failed",
		DscTargetNotFound:      "Source target not found",
		DscIneligible:          "Declaration is not eligible for the transformation",
		DscRequiredIneligible:  "Required transformation cannot be applied",
		DscUnknownClass:        "Source references an unknown class",
		StgInfo:                "Stage information",
		StgFailed:              "Stage failed",
		StgTransformerMissing:  "No transformer registered for low-level layer",
		StgTransformerFailed:   "Low-level transformer failed",
		ObsInfo:                "Observability information",
		ObsTimings:             "Pipeline timings",
	}
)

func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 1000 && ic < 2000:
		return fmt.Sprintf("ORD%04d", ic)
	case ic >= 2000 && ic < 3000:
		return fmt.Sprintf("SCH%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("XFM%04d", ic)
	case ic >= 4000 && ic < 5000:
		return fmt.Sprintf("DSC%04d", ic)
	case ic >= 5000 && ic < 6000:
		return fmt.Sprintf("STG%04d", ic)
	case ic >= 6000 && ic < 7000:
		return fmt.Sprintf("OBS%04d", ic)
	}
	return "E0000"
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[UnknownCode]
	}
	return desc
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}

// ParseCode resolves the stable string form ("SCH2001") of a known code.
func ParseCode(id string) (Code, bool) {
	id = strings.ToUpper(strings.TrimSpace(id))
	for c := range codeDescription {
		if c != UnknownCode && c.ID() == id {
			return c, true
		}
	}
	return UnknownCode, false
}
