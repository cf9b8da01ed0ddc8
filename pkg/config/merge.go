package config

import (
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
)

// keyDelim is the koanf path delimiter. Rule ids contain dots, so the
// default "." cannot be used.
const keyDelim = "\x1f"

// deepMerge layers maps left to right; later layers win. Inputs are never
// modified.
func deepMerge(layers ...map[string]any) map[string]any {
	k := koanf.NewWithConf(koanf.Conf{Delim: keyDelim})
	for _, l := range layers {
		if len(l) == 0 {
			continue
		}
		if err := k.Load(confmap.Provider(l, ""), nil); err != nil {
			configLog.Printf("merge layer: %v", err)
		}
	}
	return k.Raw()
}

// decodeInto unmarshals a plain map into a koanf-tagged struct with weak
// typing ("1" -> 1, "true" -> true).
func decodeInto(m map[string]any, out any) error {
	k := koanf.NewWithConf(koanf.Conf{Delim: keyDelim})
	if err := k.Load(confmap.Provider(m, ""), nil); err != nil {
		return err
	}
	return k.UnmarshalWithConf("", out, koanf.UnmarshalConf{Tag: "koanf"})
}
