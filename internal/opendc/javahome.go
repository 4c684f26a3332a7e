// v1
// internal/opendc/javahome.go
package opendc

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DetectJavaHome resolves a JAVA_HOME for the simulator subprocess.
// Order: the JAVA_HOME variable, /usr/libexec/java_home (macOS), the
// resolved /usr/bin/java symlink, then common JVM install paths.
func DetectJavaHome() (string, error) {
	if jh := os.Getenv("JAVA_HOME"); jh != "" {
		if _, err := os.Stat(jh); err == nil {
			return jh, nil
		}
	}

	if out, err := exec.Command("/usr/libexec/java_home").Output(); err == nil {
		jh := strings.TrimSpace(string(out))
		if jh != "" {
			if _, err := os.Stat(jh); err == nil {
				return jh, nil
			}
		}
	}

	if target, err := filepath.EvalSymlinks("/usr/bin/java"); err == nil {
		jh := filepath.Dir(filepath.Dir(target))
		if _, err := os.Stat(jh); err == nil {
			return jh, nil
		}
	}

	for _, jh := range []string{
		"/usr/lib/jvm/java-21-openjdk-arm64",
		"/usr/lib/jvm/java-21-openjdk-amd64",
		"/usr/lib/jvm/default-java",
		"/usr/lib/jvm/java-21",
	} {
		if _, err := os.Stat(jh); err == nil {
			return jh, nil
		}
	}

	return "", errors.New("could not detect JAVA_HOME; set the JAVA_HOME environment variable")
}
