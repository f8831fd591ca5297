package orchestrator

// modelSets maps a named model set (ADWState.model_set) to per-stage model
// overrides. Stage-level config wins over these; stages absent from a set
// use the agent's default model.
var modelSets = map[string]map[string]string{
	"base": {
		"plan":   "sonnet",
		"build":  "sonnet",
		"review": "sonnet",
	},
	"heavy": {
		"plan":   "opus",
		"build":  "opus",
		"review": "opus",
		"merge":  "sonnet",
	},
}

// modelFor resolves the model for a stage. Priority: stage config >
// per-ADW model set > default (empty).
func modelFor(stageName, stageCfgModel, modelSet string) string {
	if stageCfgModel != "" {
		return stageCfgModel
	}
	if set, ok := modelSets[modelSet]; ok {
		return set[stageName]
	}
	return ""
}
