package script

import (
	"encoding/json"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// goToLua converts JSON-shaped Go values to Lua.
func goToLua(L *lua.LState, val any) lua.LValue {
	switch v := val.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return v
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(float64(v))
	case int64:
		return lua.LNumber(float64(v))
	case float64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []any:
		tbl := L.NewTable()
		for i, item := range v {
			L.RawSetInt(tbl, i+1, goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range v {
			L.SetField(tbl, k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

// toLua converts any JSON-encodable value, such as a model struct, to Lua.
func toLua(L *lua.LState, val any) (lua.LValue, error) {
	data, err := json.Marshal(val)
	if err != nil {
		return lua.LNil, err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return lua.LNil, err
	}
	return goToLua(L, generic), nil
}

// luaToGo converts a Lua value to Go. A table with only numeric keys becomes
// a slice; otherwise its string keys become a map. Keys prefixed with "_"
// are skipped.
func luaToGo(val lua.LValue) any {
	switch v := val.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		hasNumericKeys := false
		hasStringKeys := false
		maxN := 0
		v.ForEach(func(key, _ lua.LValue) {
			if n, ok := key.(lua.LNumber); ok {
				hasNumericKeys = true
				maxN = max(maxN, int(n))
			} else if ks, ok := key.(lua.LString); ok && !strings.HasPrefix(string(ks), "_") {
				hasStringKeys = true
			}
		})
		if hasNumericKeys && !hasStringKeys && maxN > 0 {
			arr := make([]any, maxN)
			for i := 1; i <= maxN; i++ {
				arr[i-1] = luaToGo(v.RawGetInt(i))
			}
			return arr
		}
		m := make(map[string]any)
		v.ForEach(func(key, value lua.LValue) {
			if ks, ok := key.(lua.LString); ok && !strings.HasPrefix(string(ks), "_") {
				m[string(ks)] = luaToGo(value)
			}
		})
		return m
	default:
		return nil
	}
}

// fromLua decodes a Lua value into v through its JSON form.
func fromLua(val lua.LValue, v any) error {
	generic := luaToGo(val)
	// An empty table reads as an empty map; callers expecting lists get nil.
	if m, ok := generic.(map[string]any); ok && len(m) == 0 {
		generic = nil
	}
	data, err := json.Marshal(generic)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
