package cli

import (
	"runtime"

	"github.com/agentcloud/cloud-agent/internal/cloud"
)

// GetPlatform returns the current platform (linux, darwin, windows).
func GetPlatform() string {
	return runtime.GOOS
}

// GetArch returns the normalized architecture (amd64, arm64).
func GetArch() string {
	switch arch := runtime.GOARCH; arch {
	case "amd64", "x86_64":
		return "amd64"
	case "arm64", "aarch64":
		return "arm64"
	default:
		return arch
	}
}

// InstallInstructions returns the shell steps that install the vendor CLI for c on this
// platform. Nothing is executed.
func InstallInstructions(c cloud.Cloud) []string {
	return installInstructions(c, GetPlatform(), GetArch())
}

func installInstructions(c cloud.Cloud, platform, arch string) []string {
	docs := "See " + cloud.Describe(c).InstallURL

	switch c {
	case cloud.AWS:
		switch platform {
		case "darwin":
			return []string{
				`curl "https://awscli.amazonaws.com/AWSCLIV2.pkg" -o "AWSCLIV2.pkg"`,
				"sudo installer -pkg AWSCLIV2.pkg -target /",
			}
		case "linux":
			pkg := "awscli-exe-linux-x86_64.zip"
			if arch == "arm64" {
				pkg = "awscli-exe-linux-aarch64.zip"
			}
			return []string{
				`curl "https://awscli.amazonaws.com/` + pkg + `" -o "awscliv2.zip"`,
				"unzip awscliv2.zip",
				"sudo ./aws/install",
			}
		case "windows":
			return []string{"msiexec.exe /i https://awscli.amazonaws.com/AWSCLIV2.msi"}
		}
	case cloud.GCP:
		switch platform {
		case "darwin":
			return []string{"brew install --cask google-cloud-sdk"}
		case "linux":
			return []string{"curl https://sdk.cloud.google.com | bash", "exec -l $SHELL", "gcloud init"}
		case "windows":
			return []string{docs}
		}
	case cloud.Azure:
		switch platform {
		case "darwin":
			return []string{"brew update && brew install azure-cli"}
		case "linux":
			return []string{"curl -sL https://aka.ms/InstallAzureCLIDeb | sudo bash"}
		case "windows":
			return []string{"winget install -e --id Microsoft.AzureCLI"}
		}
	}
	return []string{docs}
}
