package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(t *testing.T, name string) *Spec {
	t.Helper()
	spec, ok := loadDefaultCatalog(t).Lookup(name)
	require.True(t, ok, name)
	return spec
}

func TestValidate_QueryMapping(t *testing.T) {
	query, err := lookup(t, "get_location_based_list").Validate(map[string]interface{}{
		"map_x":       126.9779692,
		"map_y":       37.566535,
		"radius":      float64(2000),
		"cat1":        nil,
		"num_of_rows": float64(20),
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"mapX":      "126.9779692",
		"mapY":      "37.566535",
		"radius":    "2000",
		"numOfRows": "20",
	}, query)
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		tool string
		args map[string]interface{}
		want string
	}{
		{"get_location_based_list", map[string]interface{}{"map_x": 1.0, "map_y": 1.0, "radius": 0.0}, "radius 1~20000 범위 필요"},
		{"get_location_based_list", map[string]interface{}{"map_x": 1.0, "map_y": 1.0, "radius": 20001.0}, "radius 1~20000 범위 필요"},
		{"get_location_based_list", map[string]interface{}{"map_x": 1.0, "radius": 10.0}, "mapY 필수"},
		{"get_location_based_list", map[string]interface{}{"map_x": 1.0, "map_y": 1.0, "radius": 10.5}, "radius 정수 필요"},
		{"get_search_keyword", map[string]interface{}{"keyword": "   "}, "keyword 필수"},
		{"get_search_keyword", map[string]interface{}{}, "keyword 필수"},
		{"get_search_keyword", map[string]interface{}{"keyword": "해운대", "cat3": "A01010100", "cat1": "A01"}, "cat3 사용 시 cat1, cat2 필요"},
		{"get_search_keyword", map[string]interface{}{"keyword": "해운대", "cat2": "A0101"}, "cat2 사용 시 cat1 필요"},
		{"get_search_keyword", map[string]interface{}{"keyword": "해운대", "sigungu_code": 16.0}, "sigunguCode 사용 시 areaCode 필요"},
		{"get_search_keyword", map[string]interface{}{"keyword": "해운대", "lcls3": "x", "lcls1": "y"}, "lclsSystm3 사용 시 lclsSystm1, lclsSystm2 필요"},
		{"get_area_based_list", map[string]interface{}{"l_dong_signgu_cd": 110.0}, "lDongSignguCd 사용 시 lDongRegnCd 필요"},
		{"get_search_festival", map[string]interface{}{"event_start_date": "2024-03-01"}, "eventStartDate 형식 YYYYMMDD 또는 YYYYMMDDHHMMSS"},
		{"get_detail_image", map[string]interface{}{"content_id": 126508.0, "image_yn": "yes"}, "imageYN 값은 Y 또는 N"},
		{"get_detail_intro", map[string]interface{}{"content_id": 126508.0}, "contentTypeId 필수"},
		{"get_area_based_sync_list", map[string]interface{}{"showflag": 3.0}, "showflag 값은 0, 1 중 하나"},
	}
	for _, tc := range cases {
		t.Run(tc.tool+"/"+tc.want, func(t *testing.T) {
			_, err := lookup(t, tc.tool).Validate(tc.args)
			assert.EqualError(t, err, tc.want)
		})
	}
}

func TestValidate_UnknownParameter(t *testing.T) {
	_, err := lookup(t, "get_detail_common").Validate(map[string]interface{}{
		"content_id": 1.0,
		"contentId":  1.0,
	})
	assert.ErrorContains(t, err, "unknown parameter")
}

func TestValidate_AcceptsFullChains(t *testing.T) {
	query, err := lookup(t, "get_search_stay").Validate(map[string]interface{}{
		"area_code":     6.0,
		"sigungu_code":  16.0,
		"cat1":          "B02",
		"cat2":          "B0201",
		"cat3":          "B02010100",
		"modified_time": "20240301",
		"page_no":       "2",
	})
	require.NoError(t, err)
	assert.Equal(t, "16", query["sigunguCode"])
	assert.Equal(t, "B02010100", query["cat3"])
	assert.Equal(t, "20240301", query["modifiedtime"])
	assert.Equal(t, "2", query["pageNo"])
}
