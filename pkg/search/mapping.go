package search

import (
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
)

const (
	FieldLocation     = "location"
	FieldCapabilities = "capabilities"
	TypeFacility      = "facility"
)

func BuildGeoMapping() *mapping.IndexMappingImpl {
	idx := mapping.NewIndexMapping()
	idx.TypeField = "type"

	// 坐标
	geo := mapping.NewGeoPointFieldMapping()
	geo.Store = true
	geo.Index = true

	// 关键词
	kw := mapping.NewTextFieldMapping()
	kw.Store = true
	kw.Index = true
	kw.Analyzer = keyword.Name

	facility := mapping.NewDocumentMapping()
	facility.Dynamic = false
	facility.AddFieldMappingsAt(FieldLocation, geo)
	facility.AddFieldMappingsAt(FieldCapabilities, kw)
	idx.AddDocumentMapping(TypeFacility, facility)

	def := mapping.NewDocumentMapping()
	def.Dynamic = false
	idx.DefaultMapping = def
	return idx
}
