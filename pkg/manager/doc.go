/*
Package manager implements the coordinator console manager.

A coordinator is constructed by the role dispatcher when the node's role is
"master". While running, its console monitor periodically logs the cluster
status. On shutdown the coordinator persists the cluster state so the next
boot of the cluster can recover it:

	deleteCluster=false  write the snapshot to the instance PD file and, when
	                     the object store is enabled, upload it to the
	                     cluster bucket as persistent_data.yaml
	deleteCluster=true   remove the instance PD file and the bucket object

The saved snapshot is the current user data stamped with the persistent data
format version. Instance-only keys (role, test and local flags) and
credentials are left out.
*/
package manager
