package search

import (
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

const TypeSOS = "sos"

func BuildIndexMapping(defaultAnalyzer string) *mapping.IndexMappingImpl {
	if defaultAnalyzer == "" {
		defaultAnalyzer = standard.Name
	}
	idx := mapping.NewIndexMapping()
	idx.DefaultAnalyzer = defaultAnalyzer
	idx.TypeField = "type"

	// 文本
	text := mapping.NewTextFieldMapping()
	text.Store = true
	text.Index = true
	text.Analyzer = defaultAnalyzer
	text.IncludeInAll = true

	// 关键词
	kw := mapping.NewTextFieldMapping()
	kw.Store = true
	kw.Index = true
	kw.Analyzer = keyword.Name

	num := mapping.NewNumericFieldMapping()
	num.Store = true
	num.Index = true
	dt := mapping.NewDateTimeFieldMapping()
	dt.Store = true
	dt.Index = true

	sos := mapping.NewDocumentMapping()
	sos.Dynamic = false
	sos.AddFieldMappingsAt("name", text)
	sos.AddFieldMappingsAt("location", text)
	sos.AddFieldMappingsAt("description", text)
	sos.AddFieldMappingsAt("emergencyType", kw)
	sos.AddFieldMappingsAt("status", kw)
	sos.AddFieldMappingsAt("provinceId", kw)
	sos.AddFieldMappingsAt("districtId", kw)
	sos.AddFieldMappingsAt("peopleCount", num)
	sos.AddFieldMappingsAt("createdAt", dt)
	idx.AddDocumentMapping(TypeSOS, sos)

	def := mapping.NewDocumentMapping()
	def.Dynamic = false
	idx.DefaultMapping = def
	return idx
}
