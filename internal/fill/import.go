package fill

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// 导入文件只要求是对象数组，字段级校验交给 Normalize，以便逐条报告。
const tradesSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "side": {"type": ["string", "null"]},
      "symbol": {"type": ["string", "null"]},
      "fee": {"type": ["object", "number", "string", "null"]}
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("trades.json", strings.NewReader(tradesSchema)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("trades.json")
	})
	return schema, schemaErr
}

// NormalizeJSON 解析单个 JSON 对象，数字保留原始字面量。
func NormalizeJSON(data []byte) (Fill, error) {
	if !gjson.ValidBytes(data) {
		return Fill{}, fmt.Errorf("json 格式无效")
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return Fill{}, fmt.Errorf("成交记录必须是 JSON 对象")
	}
	raw, _ := toRawValue(parsed).(map[string]any)
	return Normalize(Raw(raw))
}

// ImportJSON 解析成交数组；返回合法成交、逐条拒绝原因，以及整体格式错误。
func ImportJSON(data []byte) ([]Fill, []error, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, nil, fmt.Errorf("compile trades schema: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("parse trades json: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, nil, fmt.Errorf("trades json does not match schema: %w", err)
	}
	raws := make([]Raw, 0)
	gjson.ParseBytes(data).ForEach(func(_, value gjson.Result) bool {
		obj, _ := toRawValue(value).(map[string]any)
		raws = append(raws, Raw(obj))
		return true
	})
	fills, errs := NormalizeAll(raws)
	return fills, errs, nil
}

func ImportFile(path string) ([]Fill, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read trades file: %w", err)
	}
	return ImportJSON(data)
}

func toRawValue(r gjson.Result) any {
	switch {
	case r.IsObject():
		obj := make(map[string]any)
		r.ForEach(func(key, value gjson.Result) bool {
			obj[key.String()] = toRawValue(value)
			return true
		})
		return obj
	case r.IsArray():
		arr := make([]any, 0)
		r.ForEach(func(_, value gjson.Result) bool {
			arr = append(arr, toRawValue(value))
			return true
		})
		return arr
	}
	switch r.Type {
	case gjson.Number:
		return json.Number(r.Raw)
	case gjson.String:
		return r.Str
	case gjson.True:
		return true
	case gjson.False:
		return false
	default:
		return nil
	}
}
