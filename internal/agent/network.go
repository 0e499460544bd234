package agent

import (
	"log"
	"net"
)

// DetectIPv4 returns the first non-loopback IPv4 address of an interface
// that is up, or "" if there is none.
func DetectIPv4() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		log.Printf("ip detect: %v", err)
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() {
				continue
			}
			ip = ip.To4()
			if ip == nil {
				continue
			}
			return ip.String()
		}
	}
	return ""
}
