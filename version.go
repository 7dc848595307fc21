package main

// Version is stamped by the linker in release builds.
var Version = "v0.1.0-dev"
