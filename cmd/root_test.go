package cmd

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grimoire/elk/test"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func TestSetAllConfig(t *testing.T) {
	dir, err := ioutil.TempDir("", "elk-cmd")
	test.ErrNil(t, err, "TempDir")
	defer os.RemoveAll(dir)
	conf := filepath.Join(dir, "elk.toml")
	err = ioutil.WriteFile(conf, []byte(`
index = "from_file"
max-batch-items = 50
elastic-urls = ["http://es1:9200", "http://es2:9200"]
`), 0600)
	test.ErrNil(t, err, "writing config")

	var config, index, flavor string
	var maxItems int
	var urls []string
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringVar(&config, "config", "", "")
	flags.StringVar(&index, "index", "default", "")
	flags.StringVar(&flavor, "flavor", "gerrit", "")
	flags.IntVar(&maxItems, "max-batch-items", 1000, "")
	flags.StringSliceVar(&urls, "elastic-urls", []string{"http://localhost:9200"}, "")

	os.Setenv("ELKTEST_MAX_BATCH_ITEMS", "20")
	defer os.Unsetenv("ELKTEST_MAX_BATCH_ITEMS")
	test.ErrNil(t, flags.Parse([]string{"--config", conf, "--flavor", "bugzilla"}), "Parse")

	test.ErrNil(t, setAllConfig(viper.New(), flags, "ELKTEST"), "setAllConfig")
	test.MustBe(t, "bugzilla", flavor, "flag")
	test.MustBe(t, 20, maxItems, "env over file")
	test.MustBe(t, "from_file", index, "file")
	test.MustBe(t, []string{"http://es1:9200", "http://es2:9200"}, urls, "file slice")
}

func TestSetAllConfigBadFile(t *testing.T) {
	var config string
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringVar(&config, "config", "", "")
	test.ErrNil(t, flags.Parse([]string{"--config", "/nonexistent/elk.toml"}), "Parse")
	if err := setAllConfig(viper.New(), flags, "ELKTEST"); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestRootCommand(t *testing.T) {
	rc := NewRootCommand(os.Stdin, ioutil.Discard, ioutil.Discard)
	names := map[string]bool{}
	for _, c := range rc.Commands() {
		names[c.Name()] = true
	}
	test.MustBe(t, map[string]bool{"enrich": true, "identities": true}, names)

	enrich, _, err := rc.Find([]string{"enrich"})
	test.ErrNil(t, err, "Find")
	for _, name := range []string{"flavor", "max-batch-items", "enrich-concurrency", "pipelined"} {
		if enrich.Flags().Lookup(name) == nil {
			t.Errorf("enrich has no flag %s", name)
		}
	}
}

func TestSetAllConfigBadValue(t *testing.T) {
	var maxItems int
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config", "", "")
	flags.IntVar(&maxItems, "max-batch-items", 1000, "")
	os.Setenv("ELKTEST_MAX_BATCH_ITEMS", "many")
	defer os.Unsetenv("ELKTEST_MAX_BATCH_ITEMS")
	test.ErrNil(t, flags.Parse(nil), "Parse")

	err := setAllConfig(viper.New(), flags, "ELKTEST")
	if err == nil || !strings.Contains(err.Error(), "setting max-batch-items") {
		t.Fatalf("unexpected error: %v", err)
	}
	test.MustBe(t, 1000, maxItems)
}

func TestRootCommandVersion(t *testing.T) {
	defer func(v, b string) { Version, BuildTime = v, b }(Version, BuildTime)
	Version, BuildTime = "", ""
	rc := NewRootCommand(os.Stdin, ioutil.Discard, ioutil.Discard)
	if !strings.Contains(rc.Long, "Version: v0.0.0\nBuild Time: not recorded") {
		t.Fatalf("unexpected long description:\n%s", rc.Long)
	}

	Version = "v1.2.3"
	rc = NewRootCommand(os.Stdin, ioutil.Discard, ioutil.Discard)
	if !strings.Contains(rc.Long, "Version: v1.2.3\n") {
		t.Fatalf("unexpected long description:\n%s", rc.Long)
	}
}
