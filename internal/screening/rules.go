package screening

// SectorRule holds the health thresholds applied to a sector. Breaching a
// threshold produces a warning on the evaluation, not a hard rejection;
// leverage norms differ too much across sectors for a single cutoff.
type SectorRule struct {
	Name           string  `json:"name"`
	DebtRatioMax   float64 `json:"debt_ratio_max"`
	GrossMarginMin float64 `json:"gross_margin_min"`
	Description    string  `json:"description"`
}

// Sector thresholds, keyed by the provider's industry labels. Financials run
// structurally high leverage; consumer and brand businesses are expected to
// carry little debt and fat margins.
var sectorRules = map[string]SectorRule{
	"地产": {Name: "地产", DebtRatioMax: 60, GrossMarginMin: 15,
		Description: "地产行业资产负债率<60%较健康"},
	"科技": {Name: "科技", DebtRatioMax: 50, GrossMarginMin: 30,
		Description: "科技行业资产负债率>50%需警惕"},
	"消费": {Name: "消费", DebtRatioMax: 40, GrossMarginMin: 40,
		Description: "消费行业越低越安全，毛利率<40%需警惕"},
	"制造业": {Name: "制造业", DebtRatioMax: 60, GrossMarginMin: 25,
		Description: "制造业毛利率25%就可能很优秀"},
	"品牌/平台": {Name: "品牌/平台", DebtRatioMax: 40, GrossMarginMin: 60,
		Description: "品牌溢价强，通常毛利率更高（60%+）"},
	"金融": {Name: "金融", DebtRatioMax: 90, GrossMarginMin: 20,
		Description: "金融行业特殊，负债率高属正常"},
}

// defaultSectorRule applies when the industry is unmapped.
var defaultSectorRule = SectorRule{
	Name: "其他", DebtRatioMax: 60, GrossMarginMin: 15, Description: "通用标准",
}

// RuleForSector resolves the thresholds for an industry label.
func RuleForSector(industry string) SectorRule {
	if rule, ok := sectorRules[industry]; ok {
		return rule
	}
	return defaultSectorRule
}
