package model

import "encoding/json"

// marshalPluginSpec/unmarshalPluginSpec use encoding/json rather than the
// fixed binary layout Serialize otherwise uses: Properties is an open
// map[string]interface{} (arbitrary plugin-declared knobs), which has no
// natural fixed-width encoding the way a node's ID/edge lists do.
func marshalPluginSpec(spec PluginSpec) ([]byte, error) {
	return json.Marshal(spec)
}

func unmarshalPluginSpec(data []byte) (PluginSpec, error) {
	var spec PluginSpec
	err := json.Unmarshal(data, &spec)
	return spec, err
}
