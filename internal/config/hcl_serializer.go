package config

import (
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// Encode renders c as HCL. Loading the result yields an equal Config.
func Encode(c *Config) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	body.SetAttributeValue("backend", cty.StringVal(c.Backend))
	body.SetAttributeValue("multiple_tunnels", cty.BoolVal(c.MultipleTunnels))
	body.SetAttributeValue("restore_on_boot", cty.BoolVal(c.RestoreOnBoot))
	body.SetAttributeValue("shell", cty.StringVal(c.Shell))
	body.AppendNewline()

	body.SetAttributeValue("binary_dir", cty.StringVal(c.BinaryDir))
	body.SetAttributeValue("temp_dir", cty.StringVal(c.TempDir))
	body.SetAttributeValue("config_dir", cty.StringVal(c.ConfigDir))
	body.SetAttributeValue("state_db", cty.StringVal(c.StateDB))
	if c.ToolsDir != "" {
		body.SetAttributeValue("tools_dir", cty.StringVal(c.ToolsDir))
	}
	body.AppendNewline()

	body.SetAttributeValue("log_level", cty.StringVal(c.LogLevel))
	if c.LogJSON {
		body.SetAttributeValue("log_json", cty.True)
	}

	if c.Engine != nil {
		body.AppendNewline()
		eb := body.AppendNewBlock("engine", nil).Body()
		eb.SetAttributeValue("fwmark", cty.NumberIntVal(c.Engine.FirewallMark))
	}
	if c.Metrics != nil {
		body.AppendNewline()
		mb := body.AppendNewBlock("metrics", nil).Body()
		mb.SetAttributeValue("listen", cty.StringVal(c.Metrics.Listen))
		mb.SetAttributeValue("interval", cty.StringVal(c.Metrics.Interval))
	}
	return hclwrite.Format(f.Bytes())
}
